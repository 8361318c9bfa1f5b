package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ggonzalez94/route-engine/internal/aggregator"
	"github.com/ggonzalez94/route-engine/internal/config"
	"github.com/ggonzalez94/route-engine/internal/engine"
	domerr "github.com/ggonzalez94/route-engine/internal/errors"
	"github.com/ggonzalez94/route-engine/internal/httpx"
	"github.com/ggonzalez94/route-engine/internal/limitorder"
	"github.com/ggonzalez94/route-engine/internal/model"
	"github.com/ggonzalez94/route-engine/internal/providers"
	"github.com/ggonzalez94/route-engine/internal/providers/bungee"
	"github.com/ggonzalez94/route-engine/internal/providers/jupiter"
	"github.com/ggonzalez94/route-engine/internal/providers/lifi"
	"github.com/ggonzalez94/route-engine/internal/providers/oneinch"
	"github.com/ggonzalez94/route-engine/internal/quotecache"
	"github.com/ggonzalez94/route-engine/internal/registry"
	"github.com/ggonzalez94/route-engine/internal/signer"
	"github.com/ggonzalez94/route-engine/internal/version"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{stdout: stdout, stderr: stderr}
}

type runtimeState struct {
	runner   *Runner
	flags    config.GlobalFlags
	settings config.Settings
	log      zerolog.Logger

	httpClient *httpx.Client
	reg        *registry.Registry
	adapters   []providers.Adapter
	agg        *aggregator.Aggregator
	orders     *limitorder.Service
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	if err := root.Execute(); err != nil {
		fmt.Fprintf(r.stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.Name,
		Short: "Cross-chain route aggregation and swap execution service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return domerr.Wrap(domerr.CodeValidation, "load configuration", err)
			}
			s.settings = settings
			s.log = newLogger(s.runner.stderr, settings.LogLevel)

			httpClient := httpx.New(settings.Timeout, settings.Retries)
			s.httpClient = httpClient
			s.reg = registry.New()
			s.adapters = []providers.Adapter{
				lifi.New(httpClient, s.reg),
				bungee.New(httpClient, settings.BungeeAPIKey, s.reg),
				oneinch.New(httpClient, settings.OneInchAPIKey, s.reg),
				jupiter.New(httpClient, settings.JupiterAPIKey, s.reg),
			}
			cache := quotecache.New(settings.CacheTTL)
			s.agg = aggregator.New(s.adapters, s.reg, cache, s.log.With().Str("component", "aggregator").Logger(), aggregator.Options{
				AdapterTimeout: settings.AdapterTimeout,
				OverallTimeout: settings.OverallTimeout,
				OnChainDecimals: func(ctx context.Context, chainID int64, address string) (int, error) {
					return registry.OnChainDecimals(ctx, settings.RPCOverrides[chainID], chainID, address)
				},
			})
			s.orders = limitorder.New(httpClient, settings.OrderBookBaseURL, settings.OrderBookAPIKey, s.log.With().Str("component", "limitorder").Logger())
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return domerr.Wrap(domerr.CodeValidation, "parse flags", err)
	})
	// Accept underscore spellings for every flag.
	cmd.SetGlobalNormalizationFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&s.flags.Listen, "listen", "", "HTTP listen address")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "Provider request timeout")
	cmd.PersistentFlags().IntVar(&s.flags.Retries, "retries", -1, "Retries per provider request")
	cmd.PersistentFlags().StringVar(&s.flags.CacheTTL, "cache-ttl", "", "Quote cache TTL")
	cmd.PersistentFlags().StringVar(&s.flags.LogLevel, "log-level", "", "Log level (debug|info|warn|error)")

	cmd.AddCommand(s.newServeCommand())
	cmd.AddCommand(s.newRouteCommand())
	cmd.AddCommand(s.newSwapCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			fmt.Fprintln(cmd.OutOrStdout(), version.Version)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP routing service",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Pick up chains the providers list beyond the seeded set before
			// accepting traffic. A failing sync never blocks startup.
			syncCtx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			if n := s.agg.SyncChains(syncCtx); n > 0 {
				s.log.Info().Int("chains", n).Msg("registered provider chains")
			}
			cancel()

			// Order signing over HTTP is enabled only when a local key is
			// available; the route endpoints work without one.
			var orderSigner signer.Signer
			if localSigner, err := signer.NewLocalSignerFromEnv(signer.KeySourceAuto); err == nil {
				orderSigner = localSigner
				s.log.Info().Str("address", localSigner.Address().Hex()).Msg("order signing enabled")
			} else {
				s.log.Warn().Err(err).Msg("order signing disabled: no local key")
			}

			server := NewServer(s.agg, s.orders, s.reg, s.adapters, orderSigner, s.log.With().Str("component", "http").Logger())
			s.log.Info().Str("listen", s.settings.ListenAddr).Msg("service started")
			return http.ListenAndServe(s.settings.ListenAddr, server.Router())
		},
	}
}

type routeFlags struct {
	fromChain   int64
	toChain     int64
	fromToken   string
	toToken     string
	fromAmount  string
	toAmount    string
	slippageBps int64
	order       string
	sender      string
	recipient   string
}

func (f *routeFlags) register(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&f.fromChain, "from-chain", 0, "Source chain id")
	cmd.Flags().Int64Var(&f.toChain, "to-chain", 0, "Destination chain id")
	cmd.Flags().StringVar(&f.fromToken, "from-token", "", "Input token address")
	cmd.Flags().StringVar(&f.toToken, "to-token", "", "Output token address")
	cmd.Flags().StringVar(&f.fromAmount, "amount", "", "Input amount in base units")
	cmd.Flags().StringVar(&f.toAmount, "to-amount", "", "Desired output amount in base units")
	cmd.Flags().Int64Var(&f.slippageBps, "slippage-bps", 50, "Slippage tolerance in basis points")
	cmd.Flags().StringVar(&f.order, "order", string(model.OrderRecommended), "Ranking preference (RECOMMENDED|FASTEST|CHEAPEST)")
	cmd.Flags().StringVar(&f.sender, "sender", "", "Sender address")
	cmd.Flags().StringVar(&f.recipient, "recipient", "", "Recipient address")
	_ = cmd.MarkFlagRequired("from-chain")
	_ = cmd.MarkFlagRequired("to-chain")
	_ = cmd.MarkFlagRequired("from-token")
	_ = cmd.MarkFlagRequired("to-token")
}

func (f *routeFlags) request() model.RouteRequest {
	return model.RouteRequest{
		FromToken:    model.TokenRef{ChainID: f.fromChain, Address: f.fromToken},
		ToToken:      model.TokenRef{ChainID: f.toChain, Address: f.toToken},
		FromAmount:   f.fromAmount,
		ToAmount:     f.toAmount,
		SlippageBps:  f.slippageBps,
		SlippageMode: model.SlippageModeFixed,
		Sender:       f.sender,
		Recipient:    f.recipient,
		Order:        model.OrderPreference(strings.ToUpper(strings.TrimSpace(f.order))),
	}
}

func (s *runtimeState) newRouteCommand() *cobra.Command {
	var flags routeFlags
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Aggregate quotes for a swap and print the ranked result",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, payload, err := s.agg.Route(cmd.Context(), flags.request())
			if err != nil {
				return err
			}
			fmt.Fprintln(s.runner.stdout, string(payload))
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func (s *runtimeState) newSwapCommand() *cobra.Command {
	var flags routeFlags
	var keySource string
	cmd := &cobra.Command{
		Use:   "swap",
		Short: "Fetch the best route and execute it with the local signer",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := flags.request()
			if strings.TrimSpace(req.FromAmount) == "" {
				return domerr.New(domerr.CodeValidation, "--amount is required for swap execution")
			}

			localSigner, err := signer.NewLocalSignerFromEnv(keySource)
			if err != nil {
				return err
			}
			req.Sender = localSigner.Address().Hex()

			resp, _, err := s.agg.Route(cmd.Context(), req)
			if err != nil {
				return err
			}
			if resp.Route == nil {
				return domerr.New(domerr.CodeNotFound, "no executable route returned")
			}

			store, err := engine.OpenStore(s.settings.SessionStorePath, s.settings.SessionLockPath)
			if err != nil {
				return domerr.Wrap(domerr.CodeInternal, "open session store", err)
			}
			defer store.Close()

			eng := engine.New(engine.DialBackend(s.settings.RPCOverrides), store, s.log.With().Str("component", "engine").Logger(), engine.Options{
				PollInterval:   s.settings.PollInterval,
				ConfirmTimeout: s.settings.ConfirmTimeout,
				Settlement:     engine.NewSettlementChecker(s.httpClient, nil),
			})
			execution, err := eng.Execute(cmd.Context(), engine.ExecuteRequest{
				Route:      *resp.Route,
				FromToken:  req.FromToken.Address,
				FromAmount: req.FromAmount,
			}, localSigner)
			if err != nil {
				return err
			}

			return streamUpdates(s.runner.stdout, execution)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&keySource, "key-source", signer.KeySourceAuto, "Signing key source (auto|env|file|keystore)")
	return cmd
}

// streamUpdates prints each status snapshot as a JSON line and reports the
// terminal outcome as the command result.
func streamUpdates(w io.Writer, execution *engine.Execution) error {
	var last engine.StatusUpdate
	for update := range execution.Updates() {
		line, err := json.Marshal(update)
		if err != nil {
			continue
		}
		fmt.Fprintln(w, string(line))
		last = update
	}
	if last.Stage == engine.StageFailed {
		return domerr.Newf(domerr.Code(last.Err), "swap %s failed: %s", execution.SessionID(), last.Message)
	}
	return nil
}
