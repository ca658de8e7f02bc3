package main

import "strings"

type Settings struct {
	Port                 int    `env:"PORT,default=8000"`
	BasePath             string `env:"BASE_PATH,default=/api"`
	JWTSecret            string `env:"JWT_SECRET,required=true"`
	DatabaseURL          string `env:"DATABASE_URL,required=true"`
	AllowedOrigins       string `env:"ALLOWED_ORIGINS,default=http://localhost:3000"`
	LogEncoding          string `env:"LOG_ENCODING,default=console"`
	PurgeIntervalMinutes int    `env:"PURGE_INTERVAL_MINUTES,default=60"`
}

func (s Settings) allowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(s.AllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}

	return origins
}
