package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"realmdb/src/engine"
	"realmdb/src/helpers"
	"realmdb/src/realm"
	"realmdb/src/schema"
	"realmdb/src/settings"
)

// printUsage prints helpful usage information
func printUsage() {
	log.Println("realmctl - inspect and maintain realm files")
	log.Println("\nUsage:")
	log.Println("  realmctl -path=<file> -op=<version|compact|copy|dump|journal|salt> [options]")
	log.Println("\nOptions:")
	flag.PrintDefaults()

	log.Println("\nExamples:")
	log.Println("  realmctl -path=./datafiles/default.realm -op=dump")
	log.Println("  realmctl -op=salt")
	log.Println("  realmctl -path=app.realm -passphrase=secret -salt=app-salt -op=copy -dest=backup.realm")
}

type options struct {
	path           string
	op             string
	dest           string
	passphrase     string
	destPassphrase string
	salt           string
}

func main() {
	args := settings.GetSettings()
	opts := options{}

	flag.StringVar(&opts.path, "path", "", "Realm file to operate on")
	flag.StringVar(&opts.op, "op", "version", "Operation: version, compact, copy, dump, journal or salt")
	flag.StringVar(&opts.dest, "dest", "", "Destination file for -op=copy")
	flag.StringVar(&opts.passphrase, "passphrase", "", "Passphrase the realm's encryption key is derived from")
	flag.StringVar(&opts.destPassphrase, "dest-passphrase", "", "Passphrase for the copy's key (default: unencrypted copy)")
	flag.StringVar(&opts.salt, "salt", "", "Salt used with the passphrases")
	flag.StringVar(&args.DataDir, "datadir", args.DataDir, "Directory of the default realm, used when -path is empty")
	flag.BoolVar(&args.JournalCommits, "journal", false, "Append commits made by this tool to the realm's journal")
	flag.StringVar(&args.LogDir, "logdir", "", "Directory for a log file in addition to stderr")
	flag.BoolVar(&args.Debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&args.Verbose, "verbose", false, "Print the options before running")
	flag.Parse()

	settings.LoadEnvironment()
	if opts.path == "" {
		opts.path = realm.DefaultPath()
	}

	logger, err := newLogger(args)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	realm.InitDefaultCache(sugar)

	if args.Verbose {
		sugar.Infow("realmctl starting", "path", opts.path, "op", opts.op, "dest", opts.dest,
			"encrypted", opts.passphrase != "", "journal", args.JournalCommits, "logDir", args.LogDir)
	}

	if err := run(context.Background(), opts, sugar); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n\n", err)
		printUsage()
		os.Exit(1)
	}
}

func newLogger(args *settings.Arguments) (*zap.Logger, error) {
	z := zap.NewProductionConfig()
	if args.Debug {
		// Development configuration with more verbose output
		z = zap.NewDevelopmentConfig()
	}
	z.OutputPaths = []string{"stderr"}

	if args.LogDir != "" {
		if err := os.MkdirAll(args.LogDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		timestamp := time.Now().Format("2006-01-02_15-04-05")
		z.OutputPaths = append(z.OutputPaths, filepath.Join(args.LogDir, fmt.Sprintf("%s_realmctl.log", timestamp)))
	}
	return z.Build()
}

func run(ctx context.Context, opts options, logger *zap.SugaredLogger) error {
	if opts.op == "salt" {
		salt, err := helpers.NewSalt(16)
		if err != nil {
			return fmt.Errorf("generating salt: %w", err)
		}
		fmt.Println(hex.EncodeToString(salt))
		return nil
	}
	if !helpers.FileExists(opts.path, logger) {
		return fmt.Errorf("no realm file at %s", opts.path)
	}
	key, err := deriveKey(opts.passphrase, opts.salt)
	if err != nil {
		return err
	}

	switch opts.op {
	case "version":
		version, err := realm.SchemaVersionAtPath(opts.path, key)
		if err != nil {
			return err
		}
		fmt.Println(formatVersion(version))
		return nil
	case "journal":
		entries, err := engine.ReadJournal(opts.path)
		if err != nil {
			return fmt.Errorf("reading journal: %w", err)
		}
		for _, e := range entries {
			fmt.Printf("%s  %-14s %-12s %s\n", e.Timestamp.Format("2006-01-02 15:04:05"), e.Command, formatVersion(e.Version), e.Details)
		}
		return nil
	}

	r, err := realm.Open(ctx, realm.Config{Path: opts.path, EncryptionKey: key, Dynamic: true})
	if err != nil {
		return err
	}
	defer r.Close()

	switch opts.op {
	case "compact":
		ok, err := r.Compact(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("realm %s is in use and was not compacted", opts.path)
		}
		logger.Infow("Compacted realm", "path", opts.path)
		return nil
	case "copy":
		if opts.dest == "" {
			return fmt.Errorf("-dest is required for -op=copy")
		}
		destKey, err := deriveKey(opts.destPassphrase, opts.salt)
		if err != nil {
			return err
		}
		if err := r.WriteCopy(ctx, opts.dest, destKey); err != nil {
			return err
		}
		logger.Infow("Wrote realm copy", "path", opts.path, "dest", opts.dest, "encrypted", destKey != nil)
		return nil
	case "dump":
		return dump(ctx, r)
	}
	return fmt.Errorf("unknown operation %q", opts.op)
}

func deriveKey(passphrase, salt string) ([]byte, error) {
	passphrase = helpers.StripQuotes(passphrase)
	if passphrase == "" {
		return nil, nil
	}
	key, err := helpers.DeriveKey(passphrase, []byte(helpers.StripQuotes(salt)))
	if err != nil {
		return nil, fmt.Errorf("deriving encryption key: %w", err)
	}
	return key, nil
}

func formatVersion(v uint64) string {
	if v == schema.NotVersioned {
		return "unversioned"
	}
	return fmt.Sprint(v)
}

func dump(ctx context.Context, r *realm.Realm) error {
	version, err := r.SchemaVersion()
	if err != nil {
		return err
	}
	fmt.Printf("%s (schema version %s)\n", r.Path(), formatVersion(version))

	for _, objSchema := range r.Schema().Objects() {
		res, err := r.Objects(ctx, objSchema.ClassName, nil)
		if err != nil {
			return err
		}
		objects, err := res.Snapshot()
		if err != nil {
			return err
		}
		fmt.Printf("\n%s: %d objects\n", objSchema.ClassName, len(objects))
		for _, o := range objects {
			values, err := o.Values()
			if err != nil {
				return err
			}
			names := make([]string, 0, len(values))
			for name := range values {
				names = append(names, name)
			}
			sort.Strings(names)

			fmt.Printf("  [%d]", o.Key())
			for _, name := range names {
				fmt.Printf(" %s=%v", name, values[name])
			}
			fmt.Println()
		}
	}
	return nil
}
