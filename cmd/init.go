package cmd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/alt1f923/flightless/flightless"
	"github.com/gorilla/securecookie"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// passwordReader reads a secret without echoing it. It's a variable so
// tests can stand in for the terminal.
type passwordReader func() ([]byte, error)

var customPasswordReader passwordReader

const generatedSecretBytes = 32

var (
	initEnvFile string
	initForce   bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the tag store and write a default env file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if cfg.DatabaseType == "" {
			return errors.New("FL_DATABASE_TYPE not set (must be one of: sqlite, postgres, bolt)")
		}
		if cfg.Database == "" {
			return errors.New(
				"FL_DATABASE not set (must be a valid database connection " +
					"string, or a sqlite/bolt file path)",
			)
		}

		// Opening the shelf runs migrations / creates the bucket
		shelf, err := flightless.OpenShelf(ctx, cfg)
		if err != nil {
			return fmt.Errorf("error creating database: %w", err)
		}
		defer shelf.Close()

		s, err := shelf.Load(ctx)
		if err != nil {
			return fmt.Errorf("error reading database: %w", err)
		}
		fmt.Fprintf(
			out,
			"Database ready (%s): %d tags, %d aliases\n",
			cfg.DatabaseType,
			len(s.Tags),
			len(s.Aliases),
		)

		if initEnvFile != "" {
			written, err := writeEnvFile(out, initEnvFile, initForce)
			if err != nil {
				return fmt.Errorf("error writing env file: %w", err)
			}
			if written {
				fmt.Fprintf(out, "Wrote default config to %s\n", initEnvFile)
			} else {
				fmt.Fprintf(out, "%s already exists, leaving it alone\n", initEnvFile)
			}
		}

		fmt.Fprintln(
			out,
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
		return nil
	},
}

// defaultEnv returns the current config as env vars
func defaultEnv(apiSecret string) map[string]string {
	p := flightless.DefaultEnvPrefix + "_"
	threshold := strconv.FormatFloat(cfg.Leaderboard.OtherThreshold, 'f', -1, 64)
	return map[string]string{
		p + "PREFIX":                      cfg.Prefix,
		p + "ADMIN_USER_ID":               cfg.AdminUserID,
		p + "DATABASE_TYPE":               cfg.DatabaseType,
		p + "DATABASE":                    cfg.Database,
		p + "LOG_LEVEL":                   cfg.LogLevel.Level().String(),
		p + "QUEUE_SIZE":                  strconv.Itoa(cfg.Queue.Size),
		p + "QUEUE_MAX_AGE":               cfg.Queue.MaxAge.String(),
		p + "LEADERBOARD_OTHER_THRESHOLD": threshold,
		p + "DISCORD_TOKEN":               cfg.Discord.Token,
		p + "DISCORD_CUSTOM_STATUS":       cfg.Discord.CustomStatus,
		p + "TRANSLATE_TOKEN":             "",
		p + "TRANSLATE_MODEL":             cfg.Translate.Model,
		p + "API_ENABLED":                 strconv.FormatBool(cfg.API.Enabled),
		p + "API_LISTEN":                  cfg.API.Listen,
		p + "API_SECRET":                  apiSecret,
	}
}

// writeEnvFile writes defaultEnv to path, unless it exists and force
// isn't set. The API secret comes from the environment, or is asked
// for on the terminal.
func writeEnvFile(out io.Writer, path string, force bool) (bool, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return false, err
		}
	}
	secret := cfg.API.Secret
	if secret == "" {
		var err error
		secret, err = readAPISecret(out)
		if err != nil {
			return false, err
		}
	}
	if err := godotenv.Write(defaultEnv(secret), path); err != nil {
		return false, err
	}
	return true, nil
}

// readAPISecret asks for the API secret twice, until both entries
// match. A blank entry, or stdin not being a terminal, generates one.
func readAPISecret(out io.Writer) (string, error) {
	readPassword := customPasswordReader
	if readPassword == nil {
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			fmt.Fprintln(out, "Not a terminal, generating an API secret.")
			return generateSecret()
		}
		readPassword = func() ([]byte, error) {
			return term.ReadPassword(fd)
		}
	}

	for {
		fmt.Fprint(out, "Enter API secret (blank to generate one): ")
		secretBytes, err := readPassword()
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("error reading API secret: %w", err)
		}
		secret := strings.TrimSpace(string(secretBytes))
		if secret == "" {
			return generateSecret()
		}

		fmt.Fprint(out, "Confirm API secret: ")
		confirmBytes, err := readPassword()
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("error reading API secret: %w", err)
		}
		if secret == strings.TrimSpace(string(confirmBytes)) {
			return secret, nil
		}
		fmt.Fprintln(out, "Secrets do not match. Please try again.")
	}
}

func generateSecret() (string, error) {
	key := securecookie.GenerateRandomKey(generatedSecretBytes)
	if key == nil {
		return "", errors.New("error generating API secret")
	}
	return hex.EncodeToString(key), nil
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(
		&initEnvFile,
		"env-file",
		"",
		"Write a default env file to this path",
	)
	initCmd.Flags().BoolVar(
		&initForce,
		"force",
		false,
		"Overwrite an existing env file",
	)
}
