package training

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// ClassMetrics holds the per-class row of a classification report.
type ClassMetrics struct {
	Name      string  `json:"name"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// ReportAverages holds a macro or weighted summary row.
type ReportAverages struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// ClassificationReport summarizes a confusion matrix per class plus macro
// and support-weighted averages.
type ClassificationReport struct {
	Classes  []ClassMetrics `json:"classes"`
	Accuracy float64        `json:"accuracy"`
	Macro    ReportAverages `json:"macro_avg"`
	Weighted ReportAverages `json:"weighted_avg"`
	Total    int            `json:"total"`
}

// BuildClassificationReport computes a report from an accumulated confusion
// matrix. classNames may be nil, in which case class indices are used.
func BuildClassificationReport(cm *ConfusionMatrix, classNames []string) (*ClassificationReport, error) {
	if cm == nil || cm.Total() == 0 {
		return nil, fmt.Errorf("confusion matrix is empty")
	}
	if classNames != nil && len(classNames) != cm.NumClasses {
		return nil, fmt.Errorf("have %d class names for %d classes", len(classNames), cm.NumClasses)
	}

	report := &ClassificationReport{
		Classes:  make([]ClassMetrics, cm.NumClasses),
		Accuracy: cm.Accuracy(),
		Total:    cm.Total(),
	}
	for c := 0; c < cm.NumClasses; c++ {
		name := fmt.Sprintf("%d", c)
		if classNames != nil {
			name = classNames[c]
		}
		support := cm.Support(c)
		m := ClassMetrics{
			Name:      name,
			Precision: cm.Precision(c),
			Recall:    cm.Recall(c),
			F1:        cm.F1(c),
			Support:   support,
		}
		report.Classes[c] = m

		report.Macro.Precision += m.Precision
		report.Macro.Recall += m.Recall
		report.Macro.F1 += m.F1
		report.Weighted.Precision += m.Precision * float64(support)
		report.Weighted.Recall += m.Recall * float64(support)
		report.Weighted.F1 += m.F1 * float64(support)
	}

	n := float64(cm.NumClasses)
	report.Macro.Precision /= n
	report.Macro.Recall /= n
	report.Macro.F1 /= n
	report.Macro.Support = cm.Total()

	total := float64(cm.Total())
	report.Weighted.Precision /= total
	report.Weighted.Recall /= total
	report.Weighted.F1 /= total
	report.Weighted.Support = cm.Total()

	return report, nil
}

// Render formats the report as a terminal table.
func (r *ClassificationReport) Render() string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Class", "Precision", "Recall", "F1", "Support"})
	for _, m := range r.Classes {
		tw.AppendRow(table.Row{
			m.Name,
			fmt.Sprintf("%.4f", m.Precision),
			fmt.Sprintf("%.4f", m.Recall),
			fmt.Sprintf("%.4f", m.F1),
			m.Support,
		})
	}
	tw.AppendSeparator()
	tw.AppendRow(table.Row{"accuracy", "", "", fmt.Sprintf("%.4f", r.Accuracy), r.Total})
	tw.AppendRow(table.Row{
		"macro avg",
		fmt.Sprintf("%.4f", r.Macro.Precision),
		fmt.Sprintf("%.4f", r.Macro.Recall),
		fmt.Sprintf("%.4f", r.Macro.F1),
		r.Macro.Support,
	})
	tw.AppendRow(table.Row{
		"weighted avg",
		fmt.Sprintf("%.4f", r.Weighted.Precision),
		fmt.Sprintf("%.4f", r.Weighted.Recall),
		fmt.Sprintf("%.4f", r.Weighted.F1),
		r.Weighted.Support,
	})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignRight},
		{Number: 3, Align: text.AlignRight, AlignHeader: text.AlignRight},
		{Number: 4, Align: text.AlignRight, AlignHeader: text.AlignRight},
		{Number: 5, Align: text.AlignRight, AlignHeader: text.AlignRight},
	})
	return tw.Render()
}
