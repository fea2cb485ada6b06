package models

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tphakala/pitchnet-go/internal/conf"
	"github.com/tphakala/pitchnet-go/internal/model"
)

// Command lists the model files found in the model directory and marks the
// one the stream would select.
func Command(settings *conf.Settings) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List discovered model files",
		Long:  "Scan the model directory and show which model the current settings select.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listModels(cmd.OutOrStdout(), settings, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")

	return cmd
}

type listing struct {
	Dir        string           `json:"dir"`
	SampleRate int              `json:"sampleRate"`
	ChunkSize  int              `json:"chunkSize"`
	Selected   string           `json:"selected,omitempty"`
	Candidates []model.Metadata `json:"candidates"`
}

func listModels(w io.Writer, settings *conf.Settings, asJSON bool) error {
	candidates, err := model.NewCatalog(0).Discover(settings.Model.Dir)
	if err != nil {
		return err
	}

	l := listing{
		Dir:        settings.Model.Dir,
		SampleRate: settings.Stream.SampleRate,
		ChunkSize:  settings.Stream.ChunkSize,
		Candidates: candidates,
	}
	if settings.Model.Path != "" {
		l.Selected = settings.Model.Path
	} else if best, err := model.SelectBest(candidates, l.SampleRate, l.ChunkSize); err == nil {
		l.Selected = best.Path
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(l)
	}

	if len(candidates) == 0 {
		_, err := fmt.Fprintf(w, "no model files in %s (extensions: %v)\n", l.Dir, model.Extensions())
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "\tNAME\tRATE\tCHUNK\tTYPE")
	for _, c := range candidates {
		mark := ""
		if c.Path == l.Selected {
			mark = "*"
		}
		rate := "any"
		if c.SampleRate > 0 {
			rate = fmt.Sprintf("%d", c.SampleRate)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", mark, c.Name, rate, c.ChunkSize, c.Extension)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if l.Selected == "" {
		_, _ = fmt.Fprintf(os.Stderr, "no model matches %d Hz / chunk %d\n", l.SampleRate, l.ChunkSize)
	}
	return nil
}
