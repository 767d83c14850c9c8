package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/courier/pkg/client"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Subscribe to configuration snapshots",
	Long: `Subscribe to the config service and print every snapshot for the
given selector.

Examples:
  # Follow the configuration of one broker
  courier watch --label role=broker --annotation cluster_id=tenant-a-broker-0

  # Follow every router configuration
  courier watch --label role=router-config`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().String("api-addr", "127.0.0.1:8080", "Address of the config service")
	watchCmd.Flags().StringArray("label", nil, "Label selector KEY=VALUE (repeatable)")
	watchCmd.Flags().StringArray("annotation", nil, "Annotation selector KEY=VALUE (repeatable)")
	watchCmd.Flags().Bool("summary", false, "Print one line per snapshot instead of the items")
}

func runWatch(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("api-addr")
	labelFlags, _ := cmd.Flags().GetStringArray("label")
	annotationFlags, _ := cmd.Flags().GetStringArray("annotation")
	summary, _ := cmd.Flags().GetBool("summary")

	labels, err := parsePairs(labelFlags)
	if err != nil {
		return fmt.Errorf("invalid --label: %w", err)
	}
	annotations, err := parsePairs(annotationFlags)
	if err != nil {
		return fmt.Errorf("invalid --annotation: %w", err)
	}

	c, err := client.NewClient(addr)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	err = c.Watch(ctx, labels, annotations, func(s *client.Snapshot) error {
		fmt.Fprintf(out, "# %s sequence=%d digest=%x items=%d\n", s.Key, s.Sequence, s.Digest[:8], len(s.Items))
		if summary {
			return nil
		}
		return enc.Encode(s.Items)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// parsePairs turns repeated KEY=VALUE flags into a map
func parsePairs(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%q is not KEY=VALUE", p)
		}
		if _, dup := out[k]; dup {
			return nil, fmt.Errorf("duplicate key %q", k)
		}
		out[k] = v
	}
	return out, nil
}
