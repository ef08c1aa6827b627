package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/emersion/go-imapsession/auth"
	"github.com/emersion/go-imapsession/backend/maildirstore"
	"github.com/emersion/go-imapsession/backend/memstore"
	"github.com/emersion/go-imapsession/backend/sqlstore"
	"github.com/emersion/go-imapsession/config"
	"github.com/emersion/go-imapsession/imapserver"
	"github.com/emersion/go-imapsession/mailbox"
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: %v [-config path] [-debug]\n", os.Args[0])
	fmt.Fprintf(flag.CommandLine.Output(), "       %v hash\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	var (
		configPath string
		debug      bool
	)
	flag.StringVar(&configPath, "config", "", "Configuration file")
	flag.BoolVar(&debug, "debug", false, "Print all commands and responses")
	flag.Usage = usage
	flag.Parse()

	if flag.Arg(0) == "hash" {
		if err := hashPassword(os.Stdin, os.Stdout); err != nil {
			log.Fatalf("Failed to hash password: %v", err)
		}
		return
	}
	if flag.NArg() > 0 {
		flag.Usage()
		os.Exit(2)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Failed to load .env file: %v", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if debug {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal(err)
	}
}

// hashPassword reads a password line and prints its bcrypt hash.
func hashPassword(r io.Reader, w io.Writer) error {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return errors.New("empty password")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, hash)
	return err
}

func run(ctx context.Context, cfg *config.Config) error {
	authenticator, err := newAuthenticator(cfg)
	if err != nil {
		return err
	}

	var tlsConfig *tls.Config
	if cfg.TLS.Cert != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.Cert, cfg.TLS.Key)
		if err != nil {
			return fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := imapserver.NewMetrics(reg)

	dir := mailbox.NewDirectory(storeFactory(cfg.Backend), &mailbox.Options{
		OnEvent: metrics.ObserveEvent,
	})
	defer func() {
		if err := dir.Close(); err != nil {
			log.Printf("Failed to close stores: %v", err)
		}
	}()

	var debugWriter io.Writer
	if cfg.Debug {
		debugWriter = os.Stdout
	}

	server := imapserver.New(&imapserver.Options{
		Directory:      dir,
		Authenticator:  authenticator,
		TLSConfig:      tlsConfig,
		InsecureAuth:   cfg.InsecureAuth,
		DebugWriter:    debugWriter,
		ReadTimeout:    cfg.ReadTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxLiteralSize: cfg.MaxLiteral,
		Metrics:        metrics,
	})

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Listen != "" {
		g.Go(func() error {
			log.Printf("IMAP server listening on %v", cfg.Listen)
			return server.ListenAndServe(cfg.Listen)
		})
	}
	if cfg.ListenTLS != "" {
		g.Go(func() error {
			log.Printf("IMAP server listening on %v (TLS)", cfg.ListenTLS)
			return server.ListenAndServeTLS(cfg.ListenTLS)
		})
	}

	var httpServer *http.Server
	if cfg.Metrics != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		httpServer = &http.Server{
			Addr:              cfg.Metrics,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			log.Printf("Metrics server listening on %v", cfg.Metrics)
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Printf("Shutting down")
		server.Close()
		if httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		}
		return nil
	})

	return g.Wait()
}

func newAuthenticator(cfg *config.Config) (imapserver.Authenticator, error) {
	var multi auth.Multi
	if cfg.Auth.PasswdFile != "" {
		passwd, err := auth.LoadPasswd(cfg.Auth.PasswdFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load passwd file: %w", err)
		}
		multi = append(multi, passwd)
	}
	if cfg.Auth.JWTSecret != "" {
		multi = append(multi, &auth.Bearer{
			Secret:   []byte(cfg.Auth.JWTSecret),
			Issuer:   cfg.Auth.JWTIssuer,
			Audience: cfg.Auth.JWTAudience,
		})
	}
	return multi, nil
}

func storeFactory(backend config.Backend) mailbox.StoreFactory {
	return func(ctx context.Context, username string) (mailbox.Store, error) {
		if backend.Type == config.BackendMemory {
			return memstore.New(), nil
		}

		name, err := userPathName(username)
		if err != nil {
			return nil, err
		}
		var store mailbox.Store
		switch backend.Type {
		case config.BackendSQLite:
			if err := os.MkdirAll(backend.Path, 0700); err != nil {
				return nil, err
			}
			store, err = sqlstore.Open(ctx, filepath.Join(backend.Path, name+".db"))
		case config.BackendMaildir:
			store, err = maildirstore.Open(filepath.Join(backend.Path, name))
		default:
			err = fmt.Errorf("unknown backend %q", backend.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to open store for user %q: %w", username, err)
		}
		return store, nil
	}
}

// userPathName checks that a username can be used as a file name.
func userPathName(username string) (string, error) {
	if username == "" || username == "." || username == ".." ||
		strings.ContainsAny(username, `/\`+"\x00") {
		return "", fmt.Errorf("invalid username %q", username)
	}
	return username, nil
}
