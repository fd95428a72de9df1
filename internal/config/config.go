package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode      string `mapstructure:"mode"`
	Port      int    `mapstructure:"port"`
	Secret    string `mapstructure:"secret"`
	ReadLimit int64  `mapstructure:"read_limit"`

	WorkerBin   string `mapstructure:"worker_bin"`
	WorkerCount int    `mapstructure:"worker_count"`
	ListenIP    string `mapstructure:"listen_ip"`
	AnnouncedIP string `mapstructure:"announced_ip"`

	HlsDir         string        `mapstructure:"hls_dir"`
	FfmpegPath     string        `mapstructure:"ffmpeg_path"`
	RtpBasePort    uint16        `mapstructure:"rtp_base_port"`
	StopGrace      time.Duration `mapstructure:"stop_grace"`
	SegmentSeconds int           `mapstructure:"segment_seconds"`
	PlaylistSize   int           `mapstructure:"playlist_size"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 65536)
	v.SetDefault("worker_bin", "")
	v.SetDefault("worker_count", 1)
	v.SetDefault("listen_ip", "0.0.0.0")
	v.SetDefault("announced_ip", "127.0.0.1")
	v.SetDefault("hls_dir", "./hls_output")
	v.SetDefault("ffmpeg_path", "ffmpeg")
	v.SetDefault("rtp_base_port", 5004)
	v.SetDefault("stop_grace", "2s")
	v.SetDefault("segment_seconds", 2)
	v.SetDefault("playlist_size", 3)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
