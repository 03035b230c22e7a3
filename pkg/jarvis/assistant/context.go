package assistant

import (
	"fmt"
	"strings"

	"github.com/Hassffw/Micro-Jarvis/pkg/jarvis/profile"
)

// contextTemplate renders name, interests, goals and transcript. The line
// break and indentation before the transcript are part of the format.
const contextTemplate = "Du bist ein persönlicher Assistent für %s. Ihre Interessen sind: %s. Ihre Ziele sind: %s. \n             Bisheriger Gesprächsverlauf: %s"

// listSeparator joins interests and goals.
const listSeparator = ", "

// BuildContext renders the system context for a completion call. It depends
// only on its arguments. maxEntries > 0 renders only the newest entries of
// the transcript, in their original order; 0 renders all of them.
func BuildContext(p profile.Profile, transcript []string, maxEntries int) string {
	if maxEntries > 0 && len(transcript) > maxEntries {
		transcript = transcript[len(transcript)-maxEntries:]
	}
	return fmt.Sprintf(contextTemplate,
		p.DisplayName,
		strings.Join(p.Interests, listSeparator),
		strings.Join(p.Goals, listSeparator),
		strings.Join(transcript, "\n"),
	)
}
