package ssh

import "github.com/sirupsen/logrus"

// componentLogger returns a logrus entry tagged with the subsystem that
// produced it ("kex", "auth", "channel", "packet"), for component-scoped
// leveled logging instead of ad-hoc log.Printf calls.
func componentLogger(component string) *logrus.Entry {
	return logrus.WithField("component", component)
}
