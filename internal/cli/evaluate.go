package cli

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/arjav2002/codemix"
	"github.com/spf13/cobra"
)

func (c *CLI) newEvaluateCommand() *cobra.Command {
	cfg := codemix.DefaultEvalConfig()

	cmd := &cobra.Command{
		Use:     "evaluate",
		Short:   "Evaluate a trained tagger on a dataset split",
		Example: `  codemix evaluate --model runs/baseline --data-folder data --split test`,
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.Info("Evaluating", "model", cfg.ModelDir, "split", cfg.Split)
			start := time.Now()
			report, err := codemix.Evaluate(cfg)
			if err != nil {
				return err
			}
			slog.Debug("Evaluation completed", "duration", time.Since(start))
			printReport(report)
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.ModelDir, "model", "", "Model directory (default: search for ./model)")
	cmd.Flags().StringVar(&cfg.DatasetDir, "data-folder", cfg.DatasetDir, "Path to the dataset folder")
	cmd.Flags().StringVar(&cfg.Split, "split", cfg.Split, "Dataset split to score")
	cmd.Flags().IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Evaluation batch size")
	cmd.Flags().IntVar(&cfg.MaxSeqLen, "max-seq-len", cfg.MaxSeqLen, "Maximum sequence length in words")
	return cmd
}

func printReport(r *codemix.EvalReport) {
	fmt.Printf("\nSplit %q  joint loss %.4f\n", r.Split, r.Loss)
	for _, task := range []codemix.TaskReport{r.NER, r.LID} {
		fmt.Printf("\n=== %s ===\n", task.Task)
		fmt.Printf("Macro precision %.1f%%  recall %.1f%%  F1 %.1f%%\n",
			task.Macro.Precision*100, task.Macro.Recall*100, task.Macro.F1*100)
		printConfusionMatrix(task.Confusion, task.Classes)
		printClassReport(task.Confusion, task.Classes, task.Precision, task.Recall, task.F1)
	}
}

func printClassReport(confusion map[string]map[string]int, classes []string, precision, recall, f1 map[string]float64) {
	fmt.Printf("\nPer-class metrics:\n")
	fmt.Printf("%8s  %6s  %6s  %6s  %7s\n", "class", "prec", "recall", "f1", "support")
	for _, cls := range classes {
		support := 0
		for _, v := range confusion[cls] {
			support += v
		}
		fmt.Printf("%8s  %5.1f%%  %5.1f%%  %5.1f%%  %7d\n",
			cls, precision[cls]*100, recall[cls]*100, f1[cls]*100, support)
	}
}

func printConfusionMatrix(confusion map[string]map[string]int, classes []string) {
	if len(confusion) == 0 {
		return
	}

	sort.Slice(classes, func(i, j int) bool {
		ti, tj := 0, 0
		for _, v := range confusion[classes[i]] {
			ti += v
		}
		for _, v := range confusion[classes[j]] {
			tj += v
		}
		return ti > tj
	})

	fmt.Printf("\nConfusion matrix (rows=true, cols=predicted):\n")
	fmt.Printf("%8s", "")
	for _, c := range classes {
		fmt.Printf(" %5s", c)
	}
	fmt.Printf("  total  acc%%\n")

	for _, trueClass := range classes {
		fmt.Printf("%8s", trueClass)
		total := 0
		correct := 0
		for _, predClass := range classes {
			count := confusion[trueClass][predClass]
			total += count
			if trueClass == predClass {
				correct = count
			}
			if count == 0 {
				fmt.Printf("   %5s", ".")
			} else {
				fmt.Printf("   %3d", count)
			}
		}
		acc := 0.0
		if total > 0 {
			acc = float64(correct) / float64(total) * 100
		}
		fmt.Printf("  %5d %5.1f\n", total, acc)
	}
}
