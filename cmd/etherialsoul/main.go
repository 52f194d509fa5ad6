package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kt3v/etherialsoul-server/internal/chat"
	"github.com/kt3v/etherialsoul-server/internal/chatprofile"
	"github.com/kt3v/etherialsoul-server/internal/llm"
	"github.com/kt3v/etherialsoul-server/internal/metrics"
	"github.com/kt3v/etherialsoul-server/internal/profile"
	"github.com/kt3v/etherialsoul-server/internal/version"
	"github.com/kt3v/etherialsoul-server/server"
)

const shutdownTimeout = 10 * time.Second

var (
	rootCmd = &cobra.Command{
		Use:   "etherialsoul-server",
		Short: `A real-time conversational relay: paces LLM-generated response blocks to clients with realistic typing delays.`,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if !isRunningAsSystemdService() {
				_ = godotenv.Load()
			}
			return nil
		},
		Run: func(_ *cobra.Command, _ []string) {
			instanceProfile := &profile.Profile{
				Mode: viper.GetString("mode"),
				Addr: viper.GetString("addr"),
				Port: viper.GetInt("port"),
			}
			instanceProfile.FromEnv()
			if err := instanceProfile.Validate(); err != nil {
				panic(err)
			}

			ctx, cancel := context.WithCancel(context.Background())

			llmClient := llm.NewClient(llm.Config{
				Provider:   instanceProfile.LLMProvider,
				Model:      instanceProfile.LLMModel,
				APIKey:     instanceProfile.LLMAPIKey,
				BaseURL:    instanceProfile.LLMBaseURL,
				Timeout:    instanceProfile.LLMTimeout(),
				MaxRetries: instanceProfile.LLMMaxRetries,
				RetryBase:  instanceProfile.LLMRetryBase(),
			}, nil)

			var profileProvider chat.ProfileProvider = chat.NoopProfileProvider{}
			if instanceProfile.HasProfileProvider() {
				profileProvider = chatprofile.NewHTTPProvider(chatprofile.Config{
					BaseURL: instanceProfile.ProfileProviderBaseURL,
					APIKey:  instanceProfile.ProfileProviderAPIKey,
				})
			}

			exporter := metrics.NewExporter()
			store := chat.NewSessionStore()
			timers := chat.NewTimerService()
			pacer := chat.NewPacer(store, exporter, nil)
			orch := chat.NewOrchestrator(ctx, store, timers, pacer, llmClient, profileProvider, nil)

			s := server.NewServer(ctx, instanceProfile, orch, exporter)

			c := make(chan os.Signal, 1)
			signal.Notify(c, terminationSignals...)

			go func() {
				<-c
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer shutdownCancel()
				_ = s.Shutdown(shutdownCtx)
				cancel()
			}()

			printGreetings(instanceProfile)

			addr := instanceProfile.Addr
			if addr == "" {
				addr = fmt.Sprintf(":%d", instanceProfile.Port)
			}
			if err := s.Start(addr); err != nil {
				if !errors.Is(err, http.ErrServerClosed) {
					slog.Error("failed to start server", "error", err)
				}
			}

			<-ctx.Done()
		},
	}
)

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("port", 3000)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 3000, "port of server")

	_ = viper.BindPFlag("mode", rootCmd.PersistentFlags().Lookup("mode"))
	_ = viper.BindPFlag("addr", rootCmd.PersistentFlags().Lookup("addr"))
	_ = viper.BindPFlag("port", rootCmd.PersistentFlags().Lookup("port"))

	viper.SetEnvPrefix("etherialsoul")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	_ = viper.BindEnv("port", "ETHERIALSOUL_PORT", "PORT")
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("EtherialSoul relay %s started successfully!\n", version.GetCurrentVersion(p.Mode))
	if p.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
	}
	fmt.Printf("AI enabled: %v (provider: %s, model: %s)\n", p.IsAIEnabled(), p.LLMProvider, p.LLMModel)
	if len(p.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", p.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", p.Addr, p.Port)
	}
	fmt.Println("\nReady for connections.")
}

// isRunningAsSystemdService detects if the process is running under systemd.
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
