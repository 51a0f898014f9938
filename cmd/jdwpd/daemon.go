package main

import (
	"context"
	"errors"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/jdwpd/internal/admin"
	"github.com/danmuck/jdwpd/internal/config"
	"github.com/danmuck/jdwpd/internal/facade"
	"github.com/danmuck/jdwpd/internal/jdwp"
	"github.com/danmuck/jdwpd/internal/session"
	"github.com/rs/zerolog/log"
)

const defaultAdminAddr = "127.0.0.1:9300"

// daemonThread holds the token for events the daemon posts itself.
const daemonThread session.ThreadID = 1 << 32

var errNoOptions = errors.New("an option string is required (-options or options in -config)")

// resolveConfig loads path when given and applies flag overrides.
func resolveConfig(path, optionString, adminAddr string) (config.Config, error) {
	var cfg config.Config
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if s := strings.TrimSpace(optionString); s != "" {
		cfg.Options = s
	}
	if s := strings.TrimSpace(adminAddr); s != "" {
		cfg.Admin.Addr = s
	}
	if cfg.Admin.Addr == "" {
		cfg.Admin.Addr = defaultAdminAddr
	}
	if strings.TrimSpace(cfg.Options) == "" {
		return config.Config{}, errNoOptions
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// Daemon hosts one debugger session with the standalone facade and serves
// the admin surface next to it.
type Daemon struct {
	cfg    config.Config
	facade *facade.Standalone
}

func NewDaemon(cfg config.Config) *Daemon {
	f := facade.NewStandalone(session.ThreadID(cfg.Agent.ThreadID))
	for _, c := range cfg.Classes {
		f.RegisterClass(c.ID, c.Name)
	}
	for _, m := range cfg.Methods {
		f.RegisterMethod(m.ID, m.Name)
	}
	return &Daemon{cfg: cfg, facade: f}
}

func (d *Daemon) processorConfig() jdwp.ProcessorConfig {
	pc := jdwp.DefaultProcessorConfig()
	if d.cfg.Agent.Description != "" {
		pc.Description = d.cfg.Agent.Description
	}
	if d.cfg.Agent.VMName != "" {
		pc.VMName = d.cfg.Agent.VMName
	}
	if d.cfg.Agent.VMVersion != "" {
		pc.VMVersion = d.cfg.Agent.VMVersion
	}
	pc.OnDispose = d.facade.Dispose
	pc.Namer = d.facade
	return pc
}

// Run blocks until SIGINT/SIGTERM or until a client-mode session ends.
func (d *Daemon) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts, err := d.cfg.ParsedOptions()
	if err != nil {
		return err
	}
	tc, err := d.cfg.TransportConfig()
	if err != nil {
		return err
	}

	scfg := session.DefaultConfig()
	scfg.Transport = tc
	sess, err := session.Create(opts, scfg, d.facade, jdwp.Factory(d.processorConfig()))
	if err != nil {
		return err
	}

	srv := admin.New(d.cfg.AdminServer(), sess, d.facade)
	adminErr := make(chan error, 1)
	go func() {
		adminErr <- srv.ListenAndServe()
	}()

	log.Info().Str("options", opts.String()).Str("admin", d.cfg.Admin.Addr).Msg("jdwpd ready")

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("jdwpd shutting down")
	case <-sess.Done():
		log.Info().Msg("session ended")
	case runErr = <-adminErr:
		log.Error().Err(runErr).Msg("admin server stopped")
	}

	if jdwp.Post(sess, daemonThread, jdwp.SuspendNone, jdwp.Event{Kind: jdwp.EventVMDeath}) {
		log.Debug().Msg("sent VMDeath")
	}
	sess.Destroy()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("admin shutdown")
	}
	return runErr
}
