// Copyright 2026 The Viaduct Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Viaduct is an HTTP/1.1 forward proxy. It proxies absolute-form HTTP
// requests and CONNECT tunnels, optionally gated by Basic proxy
// authentication and chained through an upstream SOCKS5 proxy.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"

	"github.com/viaduct-proxy/viaduct/httpproxy"
)

type stringArrayFlagValue []string

func (v *stringArrayFlagValue) String() string {
	return fmt.Sprint(*v)
}

func (v *stringArrayFlagValue) Set(value string) error {
	*v = append(*v, value)
	return nil
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags...]\n", path.Base(os.Args[0]))
		flag.PrintDefaults()
	}
}

func main() {
	addrFlag := flag.String("addr", "", "Address to listen on (default localhost:8080)")
	configFlag := flag.String("config", "", "Path to the YAML config file")
	upstreamFlag := flag.String("upstream-socks5", "", "Upstream SOCKS5 proxy to chain through, e.g. socks5://host:1080")
	verboseFlag := flag.Bool("v", false, "Enable debug output")
	var credentialsFlag stringArrayFlagValue
	flag.Var(&credentialsFlag, "credentials", "Client credentials as user:pass. May be repeated")
	flag.Parse()

	cfg, err := loadConfig(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}
	if *addrFlag != "" {
		cfg.Addr = *addrFlag
	}
	if cfg.Addr == "" {
		cfg.Addr = "localhost:8080"
	}
	if *upstreamFlag != "" {
		cfg.UpstreamSOCKS5 = *upstreamFlag
	}
	if *verboseFlag {
		cfg.Verbose = true
	}
	for _, credential := range credentialsFlag {
		username, password, ok := strings.Cut(credential, ":")
		if !ok {
			fmt.Fprintf(os.Stderr, "Invalid -credentials value %q: want user:pass\n", credential)
			flag.Usage()
			os.Exit(1)
		}
		if cfg.Credentials == nil {
			cfg.Credentials = make(map[string]string)
		}
		cfg.Credentials[username] = password
	}

	logLevel := slog.LevelInfo
	if cfg.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(
		os.Stderr,
		&tint.Options{NoColor: !term.IsTerminal(int(os.Stderr.Fd())), Level: logLevel},
	)))

	dialer, err := makeStreamDialer(cfg.UpstreamSOCKS5)
	if err != nil {
		slog.Error("Could not create dialer", "error", err)
		os.Exit(1)
	}

	opts := []httpproxy.Option{httpproxy.WithLogger(slog.Default())}
	if len(cfg.Credentials) > 0 {
		opts = append(opts, httpproxy.WithAuthenticate(httpproxy.NewBasicAuthenticate(cfg.Credentials)))
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		slog.Error("Could not listen", "addr", cfg.Addr, "error", err)
		os.Exit(1)
	}

	server := &http.Server{Handler: httpproxy.NewProxyHandler(dialer, opts...)}
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			slog.Error("Proxy server failed", "error", err)
			os.Exit(1)
		}
	}()
	slog.Info("Proxy server started", "addr", listener.Addr().String())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	<-sig
	slog.Info("Shutting down the proxy server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Warn("Shutdown did not complete cleanly", "error", err)
		server.Close()
	}
}
