package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/project-studying-dotnet/Streetcode-Server-May-2025-sub000/pkg/blob"
	"github.com/project-studying-dotnet/Streetcode-Server-May-2025-sub000/pkg/naming"
	"github.com/project-studying-dotnet/Streetcode-Server-May-2025-sub000/pkg/refs"
	"github.com/project-studying-dotnet/Streetcode-Server-May-2025-sub000/pkg/xerrors"
)

type app struct {
	ctx     context.Context
	store   *blob.Vault
	index   *refs.BoltIndex
	log     *slog.Logger
	cleanup []func()
}

func (a *app) ensureLogger() {
	if a.log != nil {
		return
	}
	a.log = newLogger(viper.GetString("log_level"), viper.GetString("log_format"), os.Stderr)
	slog.SetDefault(a.log)
}

func (a *app) ensureStore() error {
	if a.store != nil {
		return nil
	}
	a.ensureLogger()
	if a.ctx == nil {
		a.ctx = context.Background()
	}
	store, err := buildStore(a.ctx, viper.GetString("provider"), loadSettings(), a.log)
	if err != nil {
		return fmt.Errorf("storage config: %w", err)
	}
	a.store = store
	if cr, ok := store.Backend().(blob.CacheReporter); ok {
		a.cleanup = append(a.cleanup, func() {
			if stats, ok := cr.CacheStats(); ok {
				a.log.Debug("read cache",
					slog.Int64("hits", stats.Hits),
					slog.Int64("misses", stats.Misses),
					slog.Int("entries", stats.Entries),
					slog.Int64("bytes", stats.Bytes),
					slog.Int64("evictions", stats.Evictions))
			}
		})
	}
	return nil
}

// ensureIndex opens the reference index when one is configured. It returns
// a nil index otherwise.
func (a *app) ensureIndex() (*refs.BoltIndex, error) {
	if a.index != nil {
		return a.index, nil
	}
	path := viper.GetString("index")
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("index dir: %w", err)
	}
	idx, err := refs.NewBoltIndex(refs.BoltConfig{Path: path})
	if err != nil {
		return nil, err
	}
	a.index = idx
	a.cleanup = append(a.cleanup, func() { _ = idx.Close() })
	return idx, nil
}

func (a *app) requireIndex() (*refs.BoltIndex, error) {
	idx, err := a.ensureIndex()
	if err != nil {
		return nil, err
	}
	if idx == nil {
		return nil, xerrors.Wrap(xerrors.KindConfiguration, "mediavault", "index", errors.New("--index is required"))
	}
	return idx, nil
}

func (a *app) close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}

var (
	cfgFile     string
	application = &app{}
	rootCmd     = &cobra.Command{
		Use:           "mediavault",
		Short:         "Encrypted media blob store CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return application.ensureStore()
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	initRootFlags()
	initCommands()
}

func main() {
	err := rootCmd.Execute()
	application.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps error kinds to distinct process exit codes.
func exitCode(err error) int {
	switch xerrors.KindOf(err) {
	case xerrors.KindNotFound:
		return 3
	case xerrors.KindConfiguration:
		return 4
	case xerrors.KindDecryption:
		return 5
	default:
		return 1
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("mediavault")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "mediavault"))
		}
	}
	viper.SetEnvPrefix("MEDIAVAULT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			fmt.Fprintf(os.Stderr, "read config: %v\n", err)
		}
	}
}

func bindConfig(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

func initRootFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (TOML or YAML)")

	flags.String("provider", "local", "blob store provider: local|cloud")
	flags.String("blob-store-path", ".mediavault/blobs", "blob directory (local provider)")
	flags.String("blob-store-key", "", "encryption key, exactly 32 bytes of UTF-8")
	flags.String("container-name", "", "container (bucket) name (cloud provider)")
	flags.String("connection-string", "", "Endpoint=...;Region=...;AccessKey=...;SecretKey=... (cloud provider)")
	flags.Duration("timeout", 30*time.Second, "per-call timeout for cloud requests (0 disables)")
	flags.Int64("cache-bytes", 0, "bytes of ciphertext cached in memory for cloud reads (0 disables)")
	flags.String("index", "", "path to the media reference index (bbolt)")
	flags.String("log-level", "info", "log level: debug|info|warn|error")
	flags.String("log-format", "text", "log format: text|json")

	bindConfig("provider", flags.Lookup("provider"))
	bindConfig("blob_store_path", flags.Lookup("blob-store-path"))
	bindConfig("blob_store_key", flags.Lookup("blob-store-key"))
	bindConfig("container_name", flags.Lookup("container-name"))
	bindConfig("connection_string", flags.Lookup("connection-string"))
	bindConfig("timeout", flags.Lookup("timeout"))
	bindConfig("cache_bytes", flags.Lookup("cache-bytes"))
	bindConfig("index", flags.Lookup("index"))
	bindConfig("log_level", flags.Lookup("log-level"))
	bindConfig("log_format", flags.Lookup("log-format"))
}

func initCommands() {
	rootCmd.AddCommand(
		newSaveCmd(),
		newLoadCmd(),
		newDeleteCmd(),
		newUpdateCmd(),
		newLsCmd(),
		newSweepCmd(),
		newRefsCmd(),
	)
}

// settings is the immutable store configuration read once from viper.
type settings struct {
	BlobStorePath    string
	BlobStoreKey     string
	ContainerName    string
	ConnectionString string
	Timeout          time.Duration
	CacheBytes       int64
}

func loadSettings() settings {
	return settings{
		BlobStorePath:    viper.GetString("blob_store_path"),
		BlobStoreKey:     viper.GetString("blob_store_key"),
		ContainerName:    viper.GetString("container_name"),
		ConnectionString: viper.GetString("connection_string"),
		Timeout:          viper.GetDuration("timeout"),
		CacheBytes:       viper.GetInt64("cache_bytes"),
	}
}

// buildStore picks the backend once for the whole process.
func buildStore(ctx context.Context, provider string, s settings, logger *slog.Logger) (*blob.Vault, error) {
	switch strings.ToLower(provider) {
	case "", "local":
		return blob.NewLocalStore(blob.LocalConfig{
			Path:   s.BlobStorePath,
			Key:    s.BlobStoreKey,
			Logger: logger,
		})
	case "cloud":
		if s.ConnectionString == "" || s.ContainerName == "" {
			return nil, xerrors.Wrap(xerrors.KindConfiguration, "mediavault", provider,
				errors.New("cloud provider requires connection string and container name"))
		}
		return blob.NewCloudStore(ctx, blob.CloudConfig{
			ConnectionString: s.ConnectionString,
			ContainerName:    s.ContainerName,
			Key:              s.BlobStoreKey,
			Timeout:          s.Timeout,
			CacheBytes:       s.CacheBytes,
			Logger:           logger,
		})
	default:
		return nil, xerrors.Wrap(xerrors.KindConfiguration, "mediavault", provider,
			fmt.Errorf("unknown blob store provider %q", provider))
	}
}

func newSaveCmd() *cobra.Command {
	var name, ext string
	var ref refFlags
	cmd := &cobra.Command{
		Use:   "save <file|->",
		Short: "Encrypt and store a file, printing its object key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(args[0])
			if err != nil {
				return err
			}
			if name == "" {
				name = logicalName(args[0])
			}
			idx, err := ref.index()
			if err != nil {
				return err
			}
			return doSave(application.ctx, application.store, idx, cmd.OutOrStdout(), data, name, ext, ref)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "logical name mixed into the blob name (default: file name)")
	cmd.Flags().StringVar(&ext, "ext", "", "object extension, e.g. jpg")
	ref.register(cmd)
	_ = cmd.MarkFlagRequired("ext")
	return cmd
}

func newLoadCmd() *cobra.Command {
	var out string
	var asBase64 bool
	cmd := &cobra.Command{
		Use:   "load <key>",
		Short: "Decrypt a stored object to stdout or a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return doLoad(application.ctx, application.store, w, args[0], asBase64)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "write to file instead of stdout")
	cmd.Flags().BoolVar(&asBase64, "base64", false, "print base64 instead of raw bytes")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	var ref refFlags
	cmd := &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a stored object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := ref.index()
			if err != nil {
				return err
			}
			return doDelete(application.ctx, application.store, idx, args[0], ref)
		},
	}
	ref.register(cmd)
	return cmd
}

func newUpdateCmd() *cobra.Command {
	var name, ext string
	var ref refFlags
	cmd := &cobra.Command{
		Use:   "update <old-key> <file|->",
		Short: "Replace a stored object with new content under a new name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(args[1])
			if err != nil {
				return err
			}
			if name == "" {
				name = logicalName(args[1])
			}
			idx, err := ref.index()
			if err != nil {
				return err
			}
			return doUpdate(application.ctx, application.store, idx, cmd.OutOrStdout(), args[0], data, name, ext, ref)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "logical name for the new content (default: file name)")
	cmd.Flags().StringVar(&ext, "ext", "", "extension of the new object")
	ref.register(cmd)
	_ = cmd.MarkFlagRequired("ext")
	return cmd
}

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List stored object keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return doList(application.ctx, application.store, cmd.OutOrStdout())
		},
	}
}

func newSweepCmd() *cobra.Command {
	var opts sweepOptions
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete stored objects no media record references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := application.ensureIndex()
			if err != nil {
				return err
			}
			return doSweep(application.ctx, application.store, idx, application.log, cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report orphans without deleting them")
	cmd.Flags().StringVar(&opts.SQLDriver, "sql-driver", "", "reference database driver: sqlite|pgx")
	cmd.Flags().StringVar(&opts.SQLDSN, "sql-dsn", "", "reference database DSN")
	cmd.Flags().StringSliceVar(&opts.Columns, "sql-column", nil, "table.column holding blob names (repeatable, default images.blob_name,audios.blob_name)")
	cmd.Flags().DurationVar(&opts.PurgeTemp, "purge-temp", time.Hour, "remove interrupted local uploads older than this (0 disables)")
	return cmd
}

func newRefsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refs",
		Short: "Manage the media reference index",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			application.ensureLogger()
			if application.ctx == nil {
				application.ctx = context.Background()
			}
			_, err := application.requireIndex()
			return err
		},
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <kind> <entity-id> <key>",
			Short: "Record that a media record references a stored object",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				return application.index.Add(application.ctx, refs.Kind(args[0]), args[1], args[2])
			},
		},
		&cobra.Command{
			Use:   "rm <kind> <entity-id>",
			Short: "Drop a media record's reference",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return application.index.Remove(application.ctx, refs.Kind(args[0]), args[1])
			},
		},
		&cobra.Command{
			Use:   "ls [kind]",
			Short: "List recorded references",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var kind refs.Kind
				if len(args) == 1 {
					kind = refs.Kind(args[0])
				}
				return doRefsList(application.ctx, application.index, cmd.OutOrStdout(), kind)
			},
		},
	)
	return cmd
}

// refFlags optionally ties a command to a media record in the index.
type refFlags struct {
	Kind     string
	EntityID string
}

func (r *refFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&r.Kind, "kind", string(refs.KindImage), "media kind recorded in the index: images|audios")
	cmd.Flags().StringVar(&r.EntityID, "entity", "", "media record ID to update in the index")
}

func (r refFlags) enabled() bool { return r.EntityID != "" }

func (r refFlags) index() (*refs.BoltIndex, error) {
	if !r.enabled() {
		return nil, nil
	}
	return application.requireIndex()
}

func doSave(ctx context.Context, store blob.Store, idx *refs.BoltIndex, w io.Writer, data []byte, name, ext string, ref refFlags) error {
	blobName, err := store.SaveBytes(ctx, data, name, ext)
	if err != nil {
		return err
	}
	key := naming.ObjectKey(blobName, ext)
	if idx != nil && ref.enabled() {
		if err := idx.Add(ctx, refs.Kind(ref.Kind), ref.EntityID, key); err != nil {
			return fmt.Errorf("stored %s but index update failed: %w", key, err)
		}
	}
	_, err = fmt.Fprintln(w, key)
	return err
}

func doLoad(ctx context.Context, store blob.Store, w io.Writer, key string, asBase64 bool) error {
	if asBase64 {
		content, err := store.LoadAsBase64(ctx, key)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, content)
		return err
	}
	data, err := store.LoadAsBytes(ctx, key)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func doDelete(ctx context.Context, store blob.Store, idx *refs.BoltIndex, key string, ref refFlags) error {
	if err := store.Delete(ctx, key); err != nil {
		return err
	}
	if idx != nil && ref.enabled() {
		if err := idx.Remove(ctx, refs.Kind(ref.Kind), ref.EntityID); err != nil && !xerrors.IsNotFound(err) {
			return err
		}
	}
	return nil
}

func doUpdate(ctx context.Context, store blob.Store, idx *refs.BoltIndex, w io.Writer, oldKey string, data []byte, name, ext string, ref refFlags) error {
	blobName, err := store.Update(ctx, oldKey, base64.StdEncoding.EncodeToString(data), name, ext)
	if blobName == "" {
		return err
	}
	// The new object exists even when removing the old one failed, so the
	// reference must move to it either way.
	key := naming.ObjectKey(blobName, ext)
	if idx != nil && ref.enabled() {
		if ierr := idx.Add(ctx, refs.Kind(ref.Kind), ref.EntityID, key); ierr != nil {
			return errors.Join(err, fmt.Errorf("stored %s but index update failed: %w", key, ierr))
		}
	}
	if _, werr := fmt.Fprintln(w, key); werr != nil {
		return errors.Join(err, werr)
	}
	return err
}

func doList(ctx context.Context, store interface {
	List(context.Context) ([]string, error)
}, w io.Writer) error {
	keys, err := store.List(ctx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		fmt.Fprintln(w, k)
	}
	return nil
}

func doRefsList(ctx context.Context, idx *refs.BoltIndex, w io.Writer, kind refs.Kind) error {
	list, err := idx.List(ctx, kind)
	if err != nil {
		return err
	}
	for _, r := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Kind, r.EntityID, r.BlobName)
	}
	return nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// logicalName derives a default logical name from an input path.
func logicalName(path string) string {
	if path == "-" {
		return "stdin"
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
