// Package version хранит сведения о сборке, подставляемые через -ldflags:
//
//	go build -ldflags "-X github.com/vladislavdragonenkov/salesmaster/internal/version.version=v1.2.0"
package version

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build описывает собранный бинарник.
type Build struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Get возвращает сведения о текущей сборке.
func Get() Build {
	return Build{Version: version, Commit: commit, Date: date}
}

// String форматирует сведения о сборке для логов и CLI.
func (b Build) String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", b.Version, b.Commit, b.Date)
}

// LogFields возвращает поля для стартовой записи в лог.
func (b Build) LogFields() log.Fields {
	return log.Fields{
		"version": b.Version,
		"commit":  b.Commit,
		"date":    b.Date,
	}
}

// String возвращает Get().String().
func String() string {
	return Get().String()
}
