// Package logging configures the broker's structured logger and backs
// the system.log.subscribe/unsubscribe control topics: it builds a
// seelog logger from an XML config string, derived from Config's level
// and destination, and installs it with log.ReplaceLogger.
package logging

import (
	"fmt"

	log "github.com/cihub/seelog"

	"github.com/mandersen/brokerd/internal/config"
)

const receiverName = "brokerhub"

// Configure builds a seelog logger from cfg and installs it as the
// process-wide logger used by every package's package-level
// `log "github.com/cihub/seelog"` import. When hub is non-nil, every
// log record is also fed to it through a custom seelog receiver, so
// system.log.subscribe sees broker-wide log records.
func Configure(cfg *config.Config, hub *Hub) error {
	if hub != nil {
		log.RegisterReceiver(receiverName, func() interface{} { return NewReceiver(hub) })
	}
	xml := buildConfigXML(cfg, hub != nil)
	logger, err := log.LoggerFromConfigAsString(xml)
	if err != nil {
		return fmt.Errorf("logging: bad seelog config: %w", err)
	}
	return log.ReplaceLogger(logger)
}

func buildConfigXML(cfg *config.Config, withHub bool) string {
	level := cfg.LogLevel
	if level == "" {
		level = "info"
	}
	fileOutput := ""
	if cfg.LogFile != "" {
		fileOutput = fmt.Sprintf(`<file path="%s"/>`, cfg.LogFile)
	}
	hubOutput := ""
	if withHub {
		hubOutput = fmt.Sprintf(`<custom name="%s" formatid="common"/>`, receiverName)
	}
	return fmt.Sprintf(`
	<seelog minlevel="%s">
		<outputs>
			<splitter formatid="common">
				<console/>
				%s
				%s
			</splitter>
		</outputs>
		<formats>
			<format id="common" format="[%%LEV] %%Time %%Date %%File:%%Line %%Msg%%n"/>
		</formats>
	</seelog>`, level, fileOutput, hubOutput)
}
