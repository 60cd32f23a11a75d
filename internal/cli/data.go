package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/arjav2002/codemix/internal/data"
	"github.com/spf13/cobra"
)

func (c *CLI) newDataCommand() *cobra.Command {
	var dataFolder string
	var split string

	cmd := &cobra.Command{
		Use:   "data",
		Short: "Inspect a CoNLL dataset",
		Example: `  codemix data --data-folder data
  codemix data --split train`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return dataStats(dataFolder, split)
		},
	}
	cmd.Flags().StringVar(&dataFolder, "data-folder", "data", "Path to the dataset folder")
	cmd.Flags().StringVar(&split, "split", "", "Limit the report to one split")
	return cmd
}

func dataStats(dataFolder, split string) error {
	corpus, err := data.NewStore(dataFolder).Load()
	if err != nil {
		return err
	}
	splits := []string{"train", "val", "test"}
	if split != "" {
		splits = []string{split}
	}

	fmt.Printf("Languages: %s\n", strings.Join(corpus.Languages, ", "))
	for _, name := range splits {
		sentences, err := corpus.Split(name)
		if err != nil {
			return err
		}
		st, err := data.Collect(sentences, corpus.Languages)
		if err != nil {
			return err
		}
		printStats(name, st)
	}
	return nil
}

func printStats(split string, st *data.Stats) {
	fmt.Printf("\n[%s] %d sentences, %d tokens (max %d, avg %.1f per sentence)\n",
		split, st.Sentences, st.Tokens, st.MaxLen, st.AvgLen)
	fmt.Printf("  code-switch points: %d (%.1f%% of token pairs)\n",
		st.SwitchPoints, st.SwitchRate*100)
	printCounts("ner tags", st.NERCounts)
	printCounts("lid tags", st.LIDCounts)
	printCounts("token classes", st.TokenClasses)
	printCounts("detected languages", st.Detected)
	if st.Detected != nil {
		fmt.Printf("  detector agrees with gold tags on %.1f%% of sentences\n",
			st.DetectorAgreement*100)
	}
}

func printCounts(label string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	total := 0
	keys := make([]string, 0, len(counts))
	for k, v := range counts {
		keys = append(keys, k)
		total += v
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})

	fmt.Printf("  %s:\n", label)
	for _, k := range keys {
		fmt.Printf("  %12s  %7d  %5.1f%%\n", k, counts[k], float64(counts[k])/float64(total)*100)
	}
}
