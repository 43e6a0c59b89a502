package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/scholarindex/gateway/pkg/bridge"
	"github.com/scholarindex/gateway/pkg/broker/kafka"
	"github.com/scholarindex/gateway/pkg/gateway"
	"github.com/scholarindex/gateway/pkg/search"

	"go.uber.org/zap"
)

// Config holds all configurable parameters for the gateway.
type Config struct {
	HTTPPort            string        `mapstructure:"http-port"`
	KafkaSeedBrokers    []string      `mapstructure:"kafka-seed-brokers"`
	IndexRequestTopic   string        `mapstructure:"index-request-topic"`
	IndexResponseTopic  string        `mapstructure:"index-response-topic"`
	SearchRequestTopic  string        `mapstructure:"search-request-topic"`
	SearchResponseTopic string        `mapstructure:"search-response-topic"`
	TopNRequestTopic    string        `mapstructure:"topn-request-topic"`
	TopNResponseTopic   string        `mapstructure:"topn-response-topic"`
	ResponseTimeout     time.Duration `mapstructure:"response-timeout"`
	PollInterval        time.Duration `mapstructure:"poll-interval"`
}

var cfgFile string
var config Config
var logger *zap.Logger

var rootCmd = &cobra.Command{
	Use:   "scholar-gateway",
	Short: "HTTP gateway for the inverted-index search backend",
	Long:  `An HTTP gateway that bridges synchronous web requests onto Kafka request/response topic pairs using correlation ids.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = zap.NewProduction()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return validateConfig()
	},
	Run: func(cmd *cobra.Command, args []string) {
		startGateway()
	},
}

func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.scholar-gateway.yaml)")

	rootCmd.PersistentFlags().String("http-port", "8080", "Port for the HTTP server to listen on")
	viper.BindPFlag("http-port", rootCmd.PersistentFlags().Lookup("http-port"))

	rootCmd.PersistentFlags().StringSlice("kafka-seed-brokers", []string{"localhost:9092"}, "Comma-separated list of Kafka seed brokers")
	viper.BindPFlag("kafka-seed-brokers", rootCmd.PersistentFlags().Lookup("kafka-seed-brokers"))

	// Topic defaults match the names the backend already consumes. The
	// index operation historically rides the plain search-request pair.
	rootCmd.PersistentFlags().String("index-request-topic", "search-request", "Topic for index submission requests")
	viper.BindPFlag("index-request-topic", rootCmd.PersistentFlags().Lookup("index-request-topic"))

	rootCmd.PersistentFlags().String("index-response-topic", "search-response", "Topic for index submission responses")
	viper.BindPFlag("index-response-topic", rootCmd.PersistentFlags().Lookup("index-response-topic"))

	rootCmd.PersistentFlags().String("search-request-topic", "search-term-request", "Topic for term search requests")
	viper.BindPFlag("search-request-topic", rootCmd.PersistentFlags().Lookup("search-request-topic"))

	rootCmd.PersistentFlags().String("search-response-topic", "search-term-response", "Topic for term search responses")
	viper.BindPFlag("search-response-topic", rootCmd.PersistentFlags().Lookup("search-response-topic"))

	rootCmd.PersistentFlags().String("topn-request-topic", "topn-request", "Topic for top-N term requests")
	viper.BindPFlag("topn-request-topic", rootCmd.PersistentFlags().Lookup("topn-request-topic"))

	rootCmd.PersistentFlags().String("topn-response-topic", "topn-response", "Topic for top-N term responses")
	viper.BindPFlag("topn-response-topic", rootCmd.PersistentFlags().Lookup("topn-response-topic"))

	rootCmd.PersistentFlags().Duration("response-timeout", 120*time.Second, "How long a call waits for a matching backend reply")
	viper.BindPFlag("response-timeout", rootCmd.PersistentFlags().Lookup("response-timeout"))

	rootCmd.PersistentFlags().Duration("poll-interval", time.Second, "Bounded wait for each poll of a response subscription")
	viper.BindPFlag("poll-interval", rootCmd.PersistentFlags().Lookup("poll-interval"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".scholar-gateway")
	}

	viper.AutomaticEnv() // read in environment variables that match

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		fmt.Fprintln(os.Stderr, "No config file found, relying on environment variables or flags.")
	} else {
		cobra.CheckErr(err)
	}

	if err := viper.Unmarshal(&config); err != nil {
		cobra.CheckErr(err)
	}
}

// validateConfig fails fast at startup so a broken deployment never gets as
// far as serving requests.
func validateConfig() error {
	if len(config.KafkaSeedBrokers) == 0 {
		return fmt.Errorf("kafka-seed-brokers must not be empty")
	}
	topics := map[string]string{
		"index-request-topic":   config.IndexRequestTopic,
		"index-response-topic":  config.IndexResponseTopic,
		"search-request-topic":  config.SearchRequestTopic,
		"search-response-topic": config.SearchResponseTopic,
		"topn-request-topic":    config.TopNRequestTopic,
		"topn-response-topic":   config.TopNResponseTopic,
	}
	for name, value := range topics {
		if value == "" {
			return fmt.Errorf("%s must not be empty", name)
		}
	}
	if config.ResponseTimeout <= 0 {
		return fmt.Errorf("response-timeout must be positive")
	}
	if config.PollInterval <= 0 {
		return fmt.Errorf("poll-interval must be positive")
	}
	return nil
}

func main() {
	Execute()
}

func startGateway() {
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("Starting scholar gateway...", zap.Any("config", config))

	publisher, err := kafka.NewPublisher(config.KafkaSeedBrokers, logger)
	if err != nil {
		logger.Fatal("Failed to create Kafka publisher", zap.Error(err))
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("Failed to close Kafka publisher", zap.Error(err))
		}
	}()
	logger.Info("Kafka publisher initialized")

	subscriber := kafka.NewSubscriber(config.KafkaSeedBrokers, logger)

	caller := bridge.NewCaller(publisher, subscriber, logger, bridge.WithPollSlice(config.PollInterval))

	client := search.NewClient(caller, search.Topics{
		Index:    bridge.TopicPair{Request: config.IndexRequestTopic, Response: config.IndexResponseTopic},
		Search:   bridge.TopicPair{Request: config.SearchRequestTopic, Response: config.SearchResponseTopic},
		TopTerms: bridge.TopicPair{Request: config.TopNRequestTopic, Response: config.TopNResponseTopic},
	}, config.ResponseTimeout)

	server := &http.Server{
		Addr:    ":" + config.HTTPPort,
		Handler: gateway.NewServer(client, logger).Handler(),
	}

	logger.Info("HTTP server starting", zap.String("port", config.HTTPPort))
	go func() {
		if serveErr := server.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Error("HTTP server failed to serve", zap.Error(serveErr))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down gateway...")

	// In-flight calls may be blocked for up to the response timeout; give
	// them a bounded window to drain, then cut them off.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server did not stop gracefully within timeout, forcing shutdown.", zap.Error(err))
		_ = server.Close()
	}

	logger.Info("Gateway stopped.")
}
