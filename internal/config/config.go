package config

import (
	"log"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8000"`
	MountPath  string `envconfig:"MOUNT_PATH" default:"/"`
	BasePort   int    `envconfig:"BASE_PORT" default:"7681"`
	RoutesFile string `envconfig:"ROUTES_FILE" default:"routes.yml"`
	Debug      bool   `envconfig:"DEBUG" default:"false"`
	LogPath    string `envconfig:"LOG_PATH" default:""`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("TTYMUX", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}
