package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"nodewatch/internal/config"
	"nodewatch/internal/connection"
	"nodewatch/internal/constants"
	"nodewatch/internal/dashboard"
	"nodewatch/internal/hub"
	"nodewatch/internal/logger"
	"nodewatch/internal/metrics"
	"nodewatch/internal/protocol"
	"nodewatch/internal/remoteauth"
	"nodewatch/internal/rest"
	"nodewatch/internal/rpc"
	"nodewatch/internal/session"
	"nodewatch/internal/signature"
	"nodewatch/internal/types"
	"nodewatch/internal/utils"
	"nodewatch/internal/wallet"
)

// App wires the wallet, caches and connection registry for one process.
type App struct {
	Config   *config.Config
	Signer   *wallet.KeySigner
	Sessions *session.Cache
	Sigs     *signature.Cache
	Metrics  *metrics.Metrics
	Registry *connection.Registry
}

func NewApp(cfg *config.Config, store session.StoreInterface) (*App, error) {
	var (
		signer *wallet.KeySigner
		err    error
	)
	if cfg.WalletKey != "" {
		signer, err = wallet.NewKeySigner(cfg.WalletKey)
	} else {
		signer, err = wallet.GenerateKeySigner()
		if err == nil {
			PrintHint(colorYellow + "NODEWATCH_WALLET_KEY not set, using an ephemeral wallet" + colorReset)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("wallet: %w", err)
	}

	a := &App{
		Config:   cfg,
		Signer:   signer,
		Sessions: session.NewCache(store),
		Sigs:     signature.NewCache(signer),
		Metrics:  metrics.New(),
	}

	wsURL, skipTLS := utils.NormalizeServerURL(utils.ToWSURL(cfg.WSURL))
	a.Registry = connection.NewRegistry(func(address string) *connection.Manager {
		ccfg := connection.DefaultConfig(wsURL, address)
		ccfg.WalletType = cfg.WalletType
		ccfg.PingInterval = cfg.PingInterval
		ccfg.ConnectTimeout = cfg.ConnectTimeout
		ccfg.MaxReconnects = cfg.MaxReconnects
		ccfg.AutoMonitor = cfg.AutoMonitor
		ccfg.SkipTLSVerify = skipTLS

		lg, lerr := logger.NewLogger(address)
		if lerr != nil {
			PrintHint(colorYellow + "connection log disabled: " + lerr.Error() + colorReset)
		}
		return connection.NewManager(ccfg, connection.Deps{
			Signatures: a.Sigs,
			Sessions:   a.Sessions,
			Logger:     lg,
			Metrics:    a.Metrics,
		})
	})
	return a, nil
}

func (a *App) Close() {
	a.Registry.CloseAll()
	a.Sessions.Close()
}

// Watch streams fleet status until SIGINT/SIGTERM or "q". Single-letter
// lines on in drive the manager.
func (a *App) Watch(in io.Reader, withDashboard bool) {
	mgr := a.Registry.Acquire(a.Signer.Address())
	mgr.Subscribe(PrintEvent)

	PrintField("wallet", utils.ShortAddress(mgr.Wallet()), colorCyan)
	PrintField("server", a.Config.WSURL, colorReset)

	var dash *dashboard.Dashboard
	if withDashboard {
		dash = dashboard.New(a.Config.DashboardPort, mgr, a.Metrics, nil)
		if err := dash.Start(); err != nil {
			PrintHint(colorYellow + "⚠ Dashboard failed to start: " + err.Error() + colorReset)
			dash.Stop()
			dash = nil
		} else {
			PrintField("dashboard", dash.GetURL(), colorPurple)
		}
	}
	fmt.Println()
	PrintSep()
	PrintHint("r = retry   m = start monitor   s = stop monitor   l = logout   q = quit")
	PrintSep()
	fmt.Println()

	mgr.Connect()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	keys := make(chan string)
	go func() {
		reader := bufio.NewReader(in)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				close(keys)
				return
			}
			keys <- strings.TrimSpace(line)
		}
	}()

loop:
	for {
		select {
		case <-sigChan:
			break loop
		case key, ok := <-keys:
			if !ok {
				keys = nil
				continue
			}
			switch key {
			case "r":
				mgr.Retry()
			case "m":
				if err := mgr.StartMonitoring(); err != nil {
					PrintHint(err.Error())
				}
			case "s":
				if err := mgr.StopMonitoring(); err != nil {
					PrintHint(err.Error())
				}
			case "l":
				mgr.Logout()
			case "q":
				break loop
			}
		}
	}

	fmt.Println()
	fmt.Printf("  %s● shutting down...%s\n", colorYellow, colorReset)
	if dash != nil {
		dash.Stop()
	}
	fmt.Printf("  %s● done%s\n\n", colorGreen, colorReset)
}

// Nodes fetches the fleet once over HTTP.
func (a *App) Nodes(ctx context.Context) ([]types.NodeRecord, types.AggregateStats, error) {
	return rest.NewClient(a.Config.APIURL, a.Sigs).Nodes(ctx, a.Signer.Address())
}

// Exec authorizes nodeRef and runs command on it over the primary session.
func (a *App) Exec(ctx context.Context, nodeRef, command string, args []string) (protocol.Reply, types.NodeAuthToken, error) {
	if a.Config.NodeJWT == "" {
		return protocol.Reply{}, types.NodeAuthToken{}, errors.New("remote commands need --jwt or NODEWATCH_NODE_JWT")
	}

	mgr := a.Registry.Acquire(a.Signer.Address())
	events := mgr.SubscribeChan(constants.DashboardEventBuffer)
	defer mgr.Unsubscribe(events)

	corr := rpc.New(mgr, a.Metrics)
	defer corr.Close()
	auth := remoteauth.New(mgr, corr, a.Metrics)
	defer auth.Close()

	mgr.Connect()
	if err := WaitAuthenticated(ctx, events); err != nil {
		return protocol.Reply{}, types.NodeAuthToken{}, err
	}

	token, err := auth.Authorize(ctx, nodeRef, a.Config.NodeJWT)
	if err != nil {
		return protocol.Reply{}, types.NodeAuthToken{}, fmt.Errorf("remote auth for %s: %w", nodeRef, err)
	}
	reply, err := corr.Exec(ctx, nodeRef, token.Token, command, args, constants.RequestTimeout)
	return reply, token, err
}

// WaitAuthenticated blocks until the manager publishing on events reaches an
// authenticated state or fails.
func WaitAuthenticated(ctx context.Context, events <-chan hub.Event) error {
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return types.ErrNotConnected
			}
			if evt.Kind != hub.EventState {
				continue
			}
			switch evt.State {
			case types.StateAuthenticated, types.StateMonitoring:
				return nil
			case types.StateError, types.StateClosed:
				if evt.Err != nil {
					return evt.Err
				}
				return types.ErrNotConnected
			}
		case <-ctx.Done():
			return fmt.Errorf("waiting for authentication: %w", ctx.Err())
		}
	}
}

// PrintReply pretty-prints a command_result payload.
func PrintReply(reply protocol.Reply) {
	var pretty interface{}
	if err := json.Unmarshal(reply.Data, &pretty); err == nil {
		out, _ := json.MarshalIndent(pretty, "  ", "  ")
		fmt.Printf("  %s\n\n", out)
		return
	}
	fmt.Printf("  %s\n\n", reply.Message)
}

// ExecTimeout bounds a whole exec run from connect to reply.
func ExecTimeout(cfg *config.Config) time.Duration {
	return cfg.ConnectTimeout + constants.RequestTimeout + constants.RemoteAuthWindow
}
