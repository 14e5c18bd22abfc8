package storage

import (
	"net"
	"net/url"
	"strconv"

	"github.com/vitos/coin_listing_tracker/internal/config"
)

// BuildConnString builds a PostgreSQL connection URL from config. User and
// password are percent-encoded as URL userinfo.
func BuildConnString(cfg config.PostgresConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	return u.String()
}
