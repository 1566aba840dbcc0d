// Package geo derives best-effort geography from request metadata using
// a local MaxMind database. Lookups never fail the hot path: any error
// degrades to an empty country, which routing treats as a non-match for
// geography rules.
package geo

import (
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"

	"edgelink/internal/common/logging"
)

// Resolver resolves client IPs to ISO country codes.
type Resolver struct {
	reader *geoip2.Reader
	logger logging.Logger
}

// NewResolver opens the GeoIP2 database at path. An empty path or an
// unreadable database yields a degraded resolver that returns unknown
// for every lookup instead of an error.
func NewResolver(path string, logger logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	if path == "" {
		logger.Warn("geoip database not configured, geography routing degraded")
		return &Resolver{logger: logger}
	}

	reader, err := geoip2.Open(path)
	if err != nil {
		logger.Warn("failed to open geoip database, geography routing degraded",
			logging.Field{Key: "path", Value: path},
			logging.Field{Key: "error", Value: err.Error()},
		)
		return &Resolver{logger: logger}
	}

	return &Resolver{reader: reader, logger: logger}
}

// Country returns the upper-case ISO country code for the remote
// address, or "" when it cannot be determined.
func (r *Resolver) Country(remoteAddr string) string {
	if r.reader == nil {
		return ""
	}

	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return ""
	}

	record, err := r.reader.Country(ip)
	if err != nil {
		return ""
	}

	return strings.ToUpper(record.Country.IsoCode)
}

// Close releases the underlying database.
func (r *Resolver) Close() error {
	if r.reader == nil {
		return nil
	}
	return r.reader.Close()
}
