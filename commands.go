package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/bartek5186/catalogsync/internal/catalog"
	conf "github.com/bartek5186/catalogsync/internal/config"
	"github.com/bartek5186/catalogsync/internal/credentials"
	"github.com/bartek5186/catalogsync/internal/db"
	"github.com/bartek5186/catalogsync/internal/importer"
	"github.com/bartek5186/catalogsync/internal/integrations/square"
	"github.com/bartek5186/catalogsync/internal/syncer"
)

const usage = "sync-product <id> | sync-category <id> | unlink-product <id> | unlink-category <id> | " +
	"sync-all | import <file|dir> | set <key> <value> | env [sandbox|production] | status | paths | quit"

var errUsage = errors.New("usage: " + usage)

type app struct {
	store    *db.Store
	resolver *credentials.Resolver
	svc      *catalog.Service
	batch    *syncer.Syncer
	imp      *importer.Importer
	paths    map[string]string
}

func newApp(log zerolog.Logger, cfg *conf.Config, dbh *db.Handle, limiter *rate.Limiter) *app {
	store := db.NewStore(dbh.DB)
	resolver := credentials.NewResolver(store, cfg.Square.SandboxBaseURL, cfg.Square.ProductionBaseURL)

	clientOpts := square.Options{
		APIVersion:     cfg.Square.APIVersion,
		RequestTimeout: cfg.RequestTimeout(),
		ImageTimeout:   cfg.ImageTimeout(),
		Limiter:        limiter,
	}
	remoteLog := log.With().Str("component", "square").Logger()
	newRemote := func(c credentials.Credentials) catalog.RemoteCatalog {
		return square.New(remoteLog, c.BaseURL, c.AccessToken, clientOpts)
	}

	svc := catalog.NewService(store, resolver, newRemote, catalog.Options{
		Currency:  cfg.Square.Currency,
		ImageRoot: cfg.ImageRoot,
	}, log.With().Str("component", "catalog").Logger())

	return &app{
		store:    store,
		resolver: resolver,
		svc:      svc,
		batch:    syncer.New(log.With().Str("component", "syncer").Logger(), svc, store),
		imp:      importer.New(log, dbh.DB),
	}
}

// exec runs one command. The returned value is printed as JSON.
func (a *app) exec(ctx context.Context, args []string) (any, error) {
	if len(args) == 0 {
		return nil, errUsage
	}
	cmd, rest := strings.ToLower(args[0]), args[1:]

	switch cmd {
	case "sync-product", "sync-category", "unlink-product", "unlink-category":
		if len(rest) != 1 {
			return nil, errUsage
		}
		id, err := parseID(rest[0])
		if err != nil {
			return nil, err
		}
		return a.entity(ctx, cmd, id)

	case "sync-all":
		return some(a.batch.RunAll(ctx))

	case "import":
		if len(rest) != 1 {
			return nil, errUsage
		}
		fi, err := os.Stat(rest[0])
		if err != nil {
			return nil, err
		}
		if fi.IsDir() {
			results, err := a.imp.ScanDir(ctx, rest[0])
			if results == nil {
				return nil, err
			}
			return results, err
		}
		return some(a.imp.ImportFile(ctx, rest[0]))

	case "set":
		if len(rest) < 2 {
			return nil, errUsage
		}
		key := rest[0]
		if !knownSetting(key) {
			return nil, fmt.Errorf("unknown setting %q", key)
		}
		if err := a.store.SetSetting(ctx, key, strings.Join(rest[1:], " ")); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true, "key": key}, nil

	case "env":
		if len(rest) > 1 {
			return nil, errUsage
		}
		if len(rest) == 1 {
			env := strings.ToLower(rest[0])
			if env != string(credentials.Sandbox) && env != string(credentials.Production) {
				return nil, fmt.Errorf("environment must be %q or %q", credentials.Sandbox, credentials.Production)
			}
			if err := a.store.SetSetting(ctx, credentials.KeyEnvironment, env); err != nil {
				return nil, err
			}
		}
		return some(a.status(ctx))

	case "status":
		return some(a.status(ctx))

	case "paths":
		return a.paths, nil
	}
	return nil, errUsage
}

func (a *app) entity(ctx context.Context, cmd string, id uint) (any, error) {
	var (
		res    any
		failed error
	)
	switch cmd {
	case "sync-product":
		r := a.svc.SyncProduct(ctx, id)
		res, failed = r, resultErr(r.Success, r.Error)
	case "sync-category":
		r := a.svc.SyncCategory(ctx, id)
		res, failed = r, resultErr(r.Success, r.Error)
	case "unlink-product":
		r := a.svc.UnlinkProduct(ctx, id)
		res, failed = r, resultErr(r.Success, r.Error)
	case "unlink-category":
		r := a.svc.UnlinkCategory(ctx, id)
		res, failed = r, resultErr(r.Success, r.Error)
	}
	return res, failed
}

type statusView struct {
	Environment  credentials.Environment `json:"environment"`
	Configured   bool                    `json:"configured"`
	Missing      []string                `json:"missing,omitempty"`
	BatchRunning bool                    `json:"batchRunning"`
	LastBatch    *syncer.Stats           `json:"lastBatch,omitempty"`
}

func (a *app) status(ctx context.Context) (*statusView, error) {
	raw, err := a.store.Setting(ctx, credentials.KeyEnvironment)
	if err != nil {
		return nil, err
	}
	v := &statusView{
		Environment:  credentials.ParseEnvironment(raw),
		BatchRunning: a.batch.IsRunning(),
	}
	if rep := a.batch.LastReport(); rep != nil {
		v.LastBatch = &rep.Stats
	}

	_, err = a.resolver.Resolve(ctx)
	var cfgErr *credentials.ConfigError
	switch {
	case err == nil:
		v.Configured = true
	case errors.As(err, &cfgErr):
		v.Missing = cfgErr.Missing
	default:
		return nil, err
	}
	return v, nil
}

func knownSetting(key string) bool {
	switch key {
	case credentials.KeyEnvironment,
		credentials.KeySandboxAccessToken, credentials.KeySandboxLocationID,
		credentials.KeyProductionAccessToken, credentials.KeyProductionLocationID:
		return true
	}
	return false
}

// some keeps a nil pointer from turning into a non-nil any.
func some[T any](v *T, err error) (any, error) {
	if v == nil {
		return nil, err
	}
	return v, err
}

func resultErr(ok bool, msg string) error {
	if ok {
		return nil
	}
	return errors.New(msg)
}

func parseID(s string) (uint, error) {
	n, err := strconv.ParseUint(s, 10, 0)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return uint(n), nil
}

func printJSON(v any) {
	if v == nil {
		return
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
