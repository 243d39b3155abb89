// Package parser invokes the external log parsing engine that turns the raw
// gathered logs into structured records on the document store.
package parser

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/kyoushi/dataset/pkg/config"
)

// Logstash runs the logstash binary against the configuration the
// processing pipeline wrote.
type Logstash struct {
	// Bin is the path to the logstash executable
	Bin    string
	Config config.LogstashParser
}

// Parse executes the parsing process. It blocks until the parser exits and
// forwards cancellation as a kill to the child process.
func (l *Logstash) Parse(ctx context.Context) error {
	settings, err := filepath.Abs(l.Config.SettingsDir)
	if err != nil {
		return err
	}
	args := []string{"--path.settings", settings}
	if l.Config.LogLevel != "" {
		args = append(args, "--log.level", l.Config.LogLevel)
	}

	cmd := exec.CommandContext(ctx, l.Bin, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	logrus.WithFields(logrus.Fields{
		"bin":      l.Bin,
		"settings": settings,
	}).Info("Starting parser")
	return cmd.Run()
}
