// Package banner renders the CLI startup banner.
package banner

import "fmt"

const art = ` ██████╗ ██████╗ ██████╗ ███████╗███╗   ███╗██╗██╗  ██╗
██╔════╝██╔═══██╗██╔══██╗██╔════╝████╗ ████║██║╚██╗██╔╝
██║     ██║   ██║██║  ██║█████╗  ██╔████╔██║██║ ╚███╔╝
██║     ██║   ██║██║  ██║██╔══╝  ██║╚██╔╝██║██║ ██╔██╗
╚██████╗╚██████╔╝██████╔╝███████╗██║ ╚═╝ ██║██║██╔╝╚██╗
 ╚═════╝ ╚═════╝ ╚═════╝ ╚══════╝╚═╝     ╚═╝╚═╝╚═╝  ╚═╝`

// Banner returns the banner with the version line appended.
func Banner(version string) string {
	return fmt.Sprintf("%s\n  joint NER and language ID for code-switched text  v%s\n\n", art, version)
}
