package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-mapstyle/internal/logger"
	"github.com/joeblew999/plat-mapstyle/internal/server"
	"github.com/joeblew999/plat-mapstyle/internal/service"
)

// Options defines all CLI flags and env vars for the map style server.
// Flags: --host, --port, --data-dir, --style, --journal, --web-dir
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, SERVICE_STYLE, SERVICE_JOURNAL, SERVICE_WEB_DIR
type Options struct {
	Host    string `doc:"Host to bind to" default:"0.0.0.0"`
	Port    int    `doc:"Port to listen on" short:"p" default:"8087"`
	DataDir string `doc:"Directory for local styles, GeoJSON and the journal" default:".data"`
	Style   string `doc:"Style document to apply and watch" short:"s"`
	Journal bool   `doc:"Record engine operations and style events in DuckDB" default:"true"`
	WebDir  string `doc:"Directory of HTML fragments overriding the embedded ones"`
}

func newServer(opts *Options) *server.Server {
	srv, err := server.New(server.Config{
		Host:         opts.Host,
		Port:         fmt.Sprintf("%d", opts.Port),
		DataDir:      opts.DataDir,
		Journal:      opts.Journal,
		FragmentsDir: opts.WebDir,
	})
	if err != nil {
		log.Fatalf("Server error: %v", err)
	}
	return srv
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	logger.Initialize()
	defer logger.Sync()

	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		var (
			srv    *server.Server
			httpSv *http.Server
			cancel context.CancelFunc
		)

		hooks.OnStart(func() {
			srv = newServer(opts)
			var ctx context.Context
			ctx, cancel = signalContext()
			defer cancel()
			defer srv.Close()

			go func() {
				if err := srv.Run(ctx); err != nil {
					log.Printf("style session stopped: %v", err)
				}
			}()
			if opts.Style != "" {
				go func() {
					if err := srv.Service().Watch(ctx, opts.Style); err != nil {
						log.Printf("watch %s: %v", opts.Style, err)
					}
				}()
			}

			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("plat-mapstyle API server starting...\n")
			fmt.Printf("  Server:  %s\n", baseURL)
			fmt.Printf("  Data:    %s\n", opts.DataDir)
			if opts.Style != "" {
				fmt.Printf("  Style:   %s (watching)\n", opts.Style)
			}
			fmt.Println()
			fmt.Printf("  Events:  %s/api/v1/events\n", baseURL)
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Println()

			httpSv = &http.Server{Addr: addr, Handler: srv}
			go func() {
				<-ctx.Done()
				shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
				defer done()
				httpSv.Shutdown(shutdownCtx)
			}()
			if err := httpSv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("Server error: %v", err)
			}
		})

		hooks.OnStop(func() {
			if cancel != nil {
				cancel()
			}
		})
	})

	cli.Root().Use = "mapstyle"
	cli.Root().Short = "Declarative map style session with live reconciliation"
	cli.Root().Version = "0.1.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			opts.Journal = false
			srv := newServer(opts)
			defer srv.Close()
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			var err error
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling spec: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// apply subcommand: apply a document once and print the resulting style
	applyCmd := &cobra.Command{
		Use:   "apply <file>",
		Short: "Apply a style document and print the engine's resulting style as YAML",
		Args:  cobra.ExactArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			if err := apply(opts, args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}),
	}
	cli.Root().AddCommand(applyCmd)

	cli.Run()
}

func apply(opts *Options, path string) error {
	svc, err := service.NewStyleService(service.Config{
		DataDir: opts.DataDir,
		Logger:  logger.For(logger.ComponentServer),
	})
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, cancel := signalContext()
	defer cancel()
	go svc.Run(ctx)

	doc, err := svc.LoadFile(path)
	if err != nil {
		return err
	}
	applyCtx, done := context.WithTimeout(ctx, 30*time.Second)
	defer done()
	if err := svc.Apply(applyCtx, doc); err != nil {
		return err
	}
	snap, err := svc.Snapshot(applyCtx)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(snap)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}
