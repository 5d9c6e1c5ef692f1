package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/earthcopilot/mapview/internal/interpret"
	"github.com/earthcopilot/mapview/internal/mapprovider"
	"github.com/earthcopilot/mapview/internal/model"
	"github.com/earthcopilot/mapview/internal/reconcile"
	"github.com/earthcopilot/mapview/internal/session"
)

var (
	interpretFile     string
	interpretProvider string
	interpretFormat   string
	interpretOffline  bool
)

// dryRun is the outcome of interpreting and reconciling one response
// against a recorded map.
type dryRun struct {
	Imagery  *model.SatelliteData  `json:"imagery" yaml:"imagery"`
	Report   reconcile.Report      `json:"report" yaml:"report"`
	Error    string                `json:"error,omitempty" yaml:"error,omitempty"`
	Commands []mapprovider.Command `json:"commands" yaml:"-"`
	Ops      []string              `json:"-" yaml:"commands"`
}

var interpretCmd = &cobra.Command{
	Use:   "interpret",
	Short: "Interpret a chat backend response and print the map commands it produces",
	Long:  "Reads a backend response from --file or stdin, classifies its imagery and reconciles it against a recorded map. Nothing is sent to a browser.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var in io.Reader = cmd.InOrStdin()
		if interpretFile != "" && interpretFile != "-" {
			f, err := os.Open(interpretFile)
			if err != nil {
				return eris.Wrap(err, "open response file")
			}
			defer f.Close() //nolint:errcheck
			in = f
		}

		opts, err := session.OptionsFromConfig(cfg)
		if err != nil {
			return err
		}

		var fetcher interpret.DescriptorFetcher
		if !interpretOffline {
			fetcher = initBackend()
		}

		res, err := runDryRun(ctx, in, fetcher, opts, interpretProvider)
		if err != nil {
			return err
		}
		return writeDryRun(cmd.OutOrStdout(), res, interpretFormat)
	},
}

func init() {
	interpretCmd.Flags().StringVar(&interpretFile, "file", "", "response JSON file (default stdin)")
	interpretCmd.Flags().StringVar(&interpretProvider, "provider", mapprovider.ProviderLeaflet, "map provider to record commands for (azure or leaflet)")
	interpretCmd.Flags().StringVar(&interpretFormat, "format", "json", "output format (json or yaml)")
	interpretCmd.Flags().BoolVar(&interpretOffline, "offline", false, "do not fetch TileJSON descriptors")
	rootCmd.AddCommand(interpretCmd)
}

func runDryRun(ctx context.Context, in io.Reader, fetcher interpret.DescriptorFetcher, opts session.Options, provider string) (*dryRun, error) {
	raw, err := io.ReadAll(in)
	if err != nil {
		return nil, eris.Wrap(err, "read response")
	}

	rec := mapprovider.NewRecorder()
	var adapter mapprovider.Adapter
	switch provider {
	case mapprovider.ProviderAzure:
		adapter = mapprovider.NewAzure(rec, opts.Chain.SubscriptionKey)
	case mapprovider.ProviderLeaflet, "":
		adapter = mapprovider.NewLeaflet(rec, opts.Chain.Basemaps)
	default:
		return nil, eris.Errorf("unknown provider %q", provider)
	}

	data := interpret.New(opts.Imagery, fetcher).Interpret(ctx, raw)
	rep, applyErr := reconcile.New(adapter, fetcher, opts.Reconcile).Apply(ctx, data)

	res := &dryRun{
		Imagery:  data,
		Report:   rep,
		Commands: rec.Commands(),
		Ops:      rec.Ops(),
	}
	if applyErr != nil {
		res.Error = applyErr.Error()
	}
	return res, nil
}

func writeDryRun(w io.Writer, res *dryRun, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close() //nolint:errcheck
		return eris.Wrap(enc.Encode(res), "encode yaml")
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(res), "encode json")
	default:
		return eris.Errorf("unknown format %q", format)
	}
}
