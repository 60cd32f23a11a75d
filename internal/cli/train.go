package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/arjav2002/codemix"
	"github.com/spf13/cobra"
)

func (c *CLI) newTrainCommand() *cobra.Command {
	cfg := codemix.DefaultTrainConfig()

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a tagger on a CoNLL dataset",
		Example: `  codemix train --run-name baseline --data-folder data
  codemix train --run-name frozen --freeze -v`,
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.Info("Training tagger", "data-folder", cfg.DatasetDir, "run", cfg.RunName)
			start := time.Now()
			result, err := codemix.Train(cfg)
			if err != nil {
				return err
			}
			slog.Debug("Training completed", "duration", time.Since(start))

			fmt.Printf("Best epoch: %d (val ner f1 %.4f)\n", result.BestEpoch, result.BestMetric)
			if result.Stopped {
				fmt.Printf("Stopped early after %d epochs without improvement\n", cfg.Patience)
			}
			fmt.Printf("Model saved to %s\n", result.RunDir)
			printReport(result.Test)
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.DatasetDir, "data-folder", cfg.DatasetDir, "Path to the dataset folder")
	cmd.Flags().StringVar(&cfg.OutputDir, "output", cfg.OutputDir, "Directory for run outputs")
	cmd.Flags().StringVar(&cfg.RunName, "run-name", "", "Name of this training run")
	cmd.Flags().IntVar(&cfg.Epochs, "epochs", cfg.Epochs, "Maximum training epochs")
	cmd.Flags().Float64Var(&cfg.LR, "lr", cfg.LR, "Base learning rate")
	cmd.Flags().Float64Var(&cfg.NERLR, "ner-lr", cfg.NERLR, "NER head learning rate")
	cmd.Flags().Float64Var(&cfg.LIDLR, "lid-lr", cfg.LIDLR, "LID head learning rate")
	cmd.Flags().Float64Var(&cfg.WeightDecay, "weight-decay", cfg.WeightDecay, "AdamW weight decay")
	cmd.Flags().Float64Var(&cfg.Dropout, "dropout", cfg.Dropout, "Dropout rate")
	cmd.Flags().IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Training batch size")
	cmd.Flags().IntVar(&cfg.MaxSeqLen, "max-seq-len", cfg.MaxSeqLen, "Maximum sequence length in words")
	cmd.Flags().IntVar(&cfg.VocabSize, "vocab-size", cfg.VocabSize, "Subword vocabulary size")
	cmd.Flags().BoolVar(&cfg.Freeze, "freeze", cfg.Freeze, "Freeze the transformer part of the encoder")
	cmd.Flags().IntVar(&cfg.Patience, "patience", cfg.Patience, "Early stopping patience in epochs")
	cmd.Flags().Int64Var(&cfg.Seed, "seed", cfg.Seed, "Random seed")
	_ = cmd.MarkFlagRequired("run-name")
	return cmd
}
