// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/resolverd/internal/config"
	"github.com/holomush/resolverd/internal/pipeline"
	"github.com/holomush/resolverd/internal/resolver"
)

// queryConfig holds flags for the query command.
type queryConfig struct {
	artist     string
	album      string
	track      string
	search     string
	jsonOutput bool
}

// NewQueryCmd creates the query subcommand.
func NewQueryCmd() *cobra.Command {
	qc := &queryConfig{}

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Resolve a single track or search against every plugin",
		Long: `Load every resolver plugin, send one query through the resolution
pipeline and print the ranked results.`,
		Example: `  resolverd query --artist "Portishead" --track "Roads"
  resolverd query --search "dummy" --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runQuery(cmd.Context(), cmd, cfg, qc)
		},
	}

	cmd.Flags().StringVar(&qc.artist, "artist", "", "artist name")
	cmd.Flags().StringVar(&qc.album, "album", "", "album name")
	cmd.Flags().StringVar(&qc.track, "track", "", "track title")
	cmd.Flags().StringVar(&qc.search, "search", "", "free-text search instead of a track lookup")
	cmd.Flags().BoolVar(&qc.jsonOutput, "json", false, "output results as JSON")

	return cmd
}

func runQuery(ctx context.Context, cmd *cobra.Command, cfg *config.Config, qc *queryConfig) error {
	if qc.search == "" && qc.track == "" {
		return oops.Code("INVALID_QUERY").Errorf("either --track or --search is required")
	}

	configStore, closeStore, err := openConfigStore(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer closeStore()

	h, err := newHost(cfg, configStore)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = h.close(closeCtx)
	}()

	loadCtx, cancel := context.WithTimeout(ctx, cfg.Query.Timeout)
	defer cancel()
	if err := h.load(loadCtx); err != nil {
		return oops.With("operation", "load plugins").Wrap(err)
	}

	queryCtx, cancelQuery := context.WithTimeout(ctx, cfg.Query.Timeout)
	defer cancelQuery()
	resp, err := h.pipeline.Resolve(queryCtx, resolver.Query{
		Artist:   qc.artist,
		Album:    qc.album,
		Track:    qc.track,
		FullText: qc.search,
	})
	if err != nil {
		return err
	}

	if qc.jsonOutput {
		return writeResultsJSON(cmd.OutOrStdout(), resp)
	}
	writeResultsTable(cmd.OutOrStdout(), resp)
	return nil
}

// resultJSON is the JSON form of one ranked result.
type resultJSON struct {
	Artist      string  `json:"artist"`
	Album       string  `json:"album,omitempty"`
	Track       string  `json:"track"`
	Duration    int     `json:"duration,omitempty"`
	AlbumPos    int     `json:"albumpos,omitempty"`
	Discnumber  int     `json:"discnumber,omitempty"`
	Year        int     `json:"year,omitempty"`
	URL         string  `json:"url"`
	MimeType    string  `json:"mimetype,omitempty"`
	Bitrate     int     `json:"bitrate,omitempty"`
	Size        int64   `json:"size,omitempty"`
	Score       float64 `json:"score"`
	Checked     bool    `json:"checked"`
	PurchaseURL string  `json:"purchaseUrl,omitempty"`
	LinkURL     string  `json:"linkUrl,omitempty"`
	Source      string  `json:"source"`
}

type responseJSON struct {
	QueryID  string       `json:"qid"`
	Asked    int          `json:"asked"`
	Answered int          `json:"answered"`
	Results  []resultJSON `json:"results"`
}

func writeResultsJSON(w io.Writer, resp *pipeline.Response) error {
	out := responseJSON{
		QueryID:  resp.QueryID,
		Asked:    resp.Asked,
		Answered: resp.Answered,
		Results:  make([]resultJSON, 0, len(resp.Results)),
	}
	for _, r := range resp.Results {
		out.Results = append(out.Results, resultJSON{
			Artist:      r.Track.Artist,
			Album:       r.Track.Album,
			Track:       r.Track.Title,
			Duration:    int(r.Track.Duration / time.Second),
			AlbumPos:    r.Track.AlbumPos,
			Discnumber:  r.Track.DiscNumber,
			Year:        r.Track.Year,
			URL:         r.URL,
			MimeType:    r.MimeType,
			Bitrate:     r.Bitrate,
			Size:        r.Size,
			Score:       r.Score,
			Checked:     r.Checked,
			PurchaseURL: r.PurchaseURL,
			LinkURL:     r.LinkURL,
			Source:      r.Provenance,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return oops.With("operation", "encode results").Wrap(err)
	}
	return nil
}

func writeResultsTable(w io.Writer, resp *pipeline.Response) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "SCORE\tSOURCE\tARTIST\tTRACK\tALBUM\tDURATION\tURL")
	for _, r := range resp.Results {
		_, _ = fmt.Fprintf(tw, "%.2f\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Score, r.Provenance, r.Track.Artist, r.Track.Title, r.Track.Album,
			formatDuration(r.Track.Duration), r.URL)
	}
	_ = tw.Flush()
	_, _ = fmt.Fprintf(w, "\n%d result(s) from %d of %d resolver(s)\n", len(resp.Results), resp.Answered, resp.Asked)
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
