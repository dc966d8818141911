// ABOUTME: Network listeners for the gateway: plain TCP or a tsnet node on the tailnet
// ABOUTME: Tailnet mode serves HTTP on :80, tailnet HTTPS on :443, or Funnel, plus gRPC on :50051

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/huerto-gateway/internal/config"
)

// tailnetGRPCPort is where the gRPC listener binds on the tailnet node.
const tailnetGRPCPort = ":50051"

// listenerSet holds the bound listeners. grpc is nil when gRPC is disabled.
type listenerSet struct {
	http net.Listener
	grpc net.Listener
}

func (ls listenerSet) close() {
	for _, ln := range []net.Listener{ls.http, ls.grpc} {
		if ln != nil {
			_ = ln.Close()
		}
	}
}

// listenTCP binds server.http_addr and, when wanted, server.grpc_addr.
func listenTCP(cfg config.ServerConfig, wantGRPC bool) (listenerSet, error) {
	var ls listenerSet
	var err error

	if ls.http, err = net.Listen("tcp", cfg.HTTPAddr); err != nil {
		return ls, fmt.Errorf("binding http %s: %w", cfg.HTTPAddr, err)
	}
	if wantGRPC {
		if ls.grpc, err = net.Listen("tcp", cfg.GRPCAddr); err != nil {
			ls.close()
			return listenerSet{}, fmt.Errorf("binding grpc %s: %w", cfg.GRPCAddr, err)
		}
	}
	return ls, nil
}

// tailnetStateDir is tailscale.state_dir or a directory under the user's data home.
func tailnetStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("no home directory for tailscale state, set tailscale.state_dir: %w", err)
	}
	return filepath.Join(home, ".local", "share", "huerto-gateway", "tailscale"), nil
}

// tailnetAuthKey prefers the configured key over TS_AUTHKEY.
func tailnetAuthKey(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if key := os.Getenv("TS_AUTHKEY"); key != "" {
		return key, nil
	}
	return "", errors.New("tailscale needs an auth key: set tailscale.auth_key or TS_AUTHKEY")
}

// joinTailnet brings up a tsnet node. The caller owns the returned server.
func joinTailnet(ctx context.Context, cfg config.TailscaleConfig, logger *slog.Logger) (*tsnet.Server, error) {
	dir, err := tailnetStateDir(cfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}
	key, err := tailnetAuthKey(cfg.AuthKey)
	if err != nil {
		return nil, err
	}

	node := &tsnet.Server{
		Hostname:  cfg.Hostname,
		Dir:       dir,
		AuthKey:   key,
		Ephemeral: cfg.Ephemeral,
	}

	logger.Info("joining tailnet", "hostname", cfg.Hostname, "state_dir", dir, "ephemeral", cfg.Ephemeral)
	status, err := node.Up(ctx)
	if err != nil {
		_ = node.Close()
		return nil, fmt.Errorf("bringing up tailscale node: %w", err)
	}
	logNodeStatus(logger, cfg.Hostname, status)
	return node, nil
}

func logNodeStatus(logger *slog.Logger, hostname string, status *ipnstate.Status) {
	attrs := []any{"hostname", hostname}
	if len(status.TailscaleIPs) == 0 {
		logger.Warn("tailscale node has no addresses yet", attrs...)
	} else {
		attrs = append(attrs, "ip", status.TailscaleIPs[0].String())
	}
	if status.Self != nil {
		attrs = append(attrs, "dns_name", status.Self.DNSName)
	}
	logger.Info("tailnet ready", attrs...)
}

// listenTailnet binds the gateway's listeners on node.
func listenTailnet(node *tsnet.Server, cfg config.TailscaleConfig, wantGRPC bool, logger *slog.Logger) (listenerSet, error) {
	var ls listenerSet
	var err error

	if ls.http, err = tailnetHTTPListener(node, cfg, logger); err != nil {
		return ls, err
	}
	if wantGRPC {
		if ls.grpc, err = node.Listen("tcp", tailnetGRPCPort); err != nil {
			ls.close()
			return listenerSet{}, fmt.Errorf("binding tailnet grpc %s: %w", tailnetGRPCPort, err)
		}
	}
	return ls, nil
}

func tailnetHTTPListener(node *tsnet.Server, cfg config.TailscaleConfig, logger *slog.Logger) (net.Listener, error) {
	if cfg.Funnel {
		logger.Info("serving on tailscale funnel", "port", 443)
		ln, err := node.ListenFunnel("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("binding funnel: %w", err)
		}
		return ln, nil
	}

	if !cfg.HTTPS {
		ln, err := node.Listen("tcp", ":80")
		if err != nil {
			return nil, fmt.Errorf("binding tailnet http: %w", err)
		}
		return ln, nil
	}

	logger.Info("serving tailnet https with tailscale certificates", "port", 443)
	ln, err := node.Listen("tcp", ":443")
	if err != nil {
		return nil, fmt.Errorf("binding tailnet https: %w", err)
	}
	lc, err := node.LocalClient()
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: lc.GetCertificate,
	}), nil
}

// bind returns the gateway's listeners for the configured network.
func (g *Gateway) bind(ctx context.Context) (listenerSet, error) {
	wantGRPC := g.grpcServer != nil

	if !g.config.Tailscale.Enabled {
		return listenTCP(g.config.Server, wantGRPC)
	}

	if g.config.Server.HTTPAddr != "" || g.config.Server.GRPCAddr != "" {
		g.logger.Warn("server addresses are ignored on the tailnet",
			"http_addr", g.config.Server.HTTPAddr,
			"grpc_addr", g.config.Server.GRPCAddr,
		)
	}

	node, err := joinTailnet(ctx, g.config.Tailscale, g.logger)
	if err != nil {
		return listenerSet{}, err
	}
	ls, err := listenTailnet(node, g.config.Tailscale, wantGRPC, g.logger)
	if err != nil {
		_ = node.Close()
		return listenerSet{}, err
	}
	g.tsnetServer = node
	return ls, nil
}
