// Package runtime wires configuration, storage, rendering and transport
// into a runnable chat server.
package runtime

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"go.uber.org/zap"

	appconfig "github.com/saker-ai/chatkit-server/internal/config"
	apphttp "github.com/saker-ai/chatkit-server/internal/http"
	applogger "github.com/saker-ai/chatkit-server/internal/logger"
	"github.com/saker-ai/chatkit-server/internal/render"
	"github.com/saker-ai/chatkit-server/internal/roster"
	"github.com/saker-ai/chatkit-server/internal/store"
	"github.com/saker-ai/chatkit-server/internal/ws"
	"github.com/saker-ai/chatkit-server/pkg/audio"
)

// Server is a configured chat server.
type Server struct {
	cfg    appconfig.Config
	logger *zap.Logger
	server *http.Server
	ws     *ws.Handler
}

// New loads configPath (or conf.yaml discovered from the working
// directory when empty) and builds the server.
func New(configPath string) (*Server, error) {
	cfg, err := appconfig.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load chatkit config: %w", err)
	}

	logger, err := applogger.New(cfg.Log)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	logger.Info("chatkit logger configured",
		zap.String("level", cfg.Log.Level),
		zap.Bool("stdout", cfg.Log.Stdout),
		zap.Bool("file_enabled", cfg.Log.File.Enabled),
		zap.String("file_path", cfg.Log.File.Path),
		zap.String("file_name", cfg.Log.File.Name),
	)
	logger.Info("chatkit config loaded",
		zap.String("config_path", configPath),
		zap.String("root_dir", cfg.RootDir),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("data_dir", cfg.DataDir),
		zap.String("opus_backend", audio.Backend()),
	)

	st, err := store.New(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	users, err := roster.Load(cfg.RosterPath)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	logger.Info("roster loaded",
		zap.String("path", cfg.RosterPath),
		zap.Int("users", len(users.Users())),
	)

	renderer := render.New(render.OptionsFromConfig(cfg.Render), users)
	wsHandler := ws.NewHandler(applogger.Named(logger, "ws"), cfg, st, renderer, users)
	router := apphttp.NewRouter(cfg, apphttp.Services{
		WS:       wsHandler,
		Store:    st,
		Renderer: renderer,
		Users:    users,
	}, applogger.Named(logger, "http"))
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	return &Server{
		cfg:    cfg,
		logger: logger,
		server: httpServer,
		ws:     wsHandler,
	}, nil
}

// Logger returns the server logger.
func (s *Server) Logger() *zap.Logger {
	if s == nil || s.logger == nil {
		return zap.NewNop()
	}
	return s.logger
}

// Run serves until Shutdown is called.
func (s *Server) Run() error {
	if s == nil || s.server == nil {
		return nil
	}

	err := listen(s.server, s.cfg, s.logger)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	if s == nil || s.server == nil {
		return ""
	}
	return s.server.Addr
}

// Shutdown closes WebSocket sessions and drains HTTP requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	if s.ws != nil {
		s.ws.Close()
	}
	err := ignoreServerClosed(s.server.Shutdown(ctx))
	_ = s.logger.Sync()
	return err
}

func ignoreServerClosed(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func listen(server *http.Server, cfg appconfig.Config, logger *zap.Logger) error {
	if cfg.TLSDisable {
		if logger != nil {
			logger.Info("starting http server", zap.String("addr", cfg.HTTPAddr))
		}
		return server.ListenAndServe()
	}

	certPath := filepath.Clean(cfg.TLSCertPath)
	keyPath := filepath.Clean(cfg.TLSKeyPath)
	certExists := fileExists(certPath)
	keyExists := fileExists(keyPath)

	if certExists && keyExists {
		if logger != nil {
			logger.Info("starting https server", zap.String("addr", cfg.HTTPAddr))
		}
		return server.ListenAndServeTLS(certPath, keyPath)
	}

	if cfg.TLSRequired {
		missing := []string{}
		if !certExists {
			missing = append(missing, certPath)
		}
		if !keyExists {
			missing = append(missing, keyPath)
		}
		if logger != nil {
			logger.Warn("tls required but certs missing; using in-memory cert", zap.Strings("missing", missing))
		}
	}

	cert, err := generateSelfSignedCert(cfg.SystemConfig.Host)
	if err != nil {
		return fmt.Errorf("failed to generate tls cert: %w", err)
	}
	server.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	if logger != nil {
		logger.Info("starting https server with in-memory cert", zap.String("addr", cfg.HTTPAddr))
	}
	return server.ListenAndServeTLS("", "")
}
