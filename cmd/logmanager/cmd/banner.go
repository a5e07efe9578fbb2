package cmd

import (
	"fmt"
)

const banner = `
  _                __  __
 | |    ___   __ _|  \/  | __ _ _ __   __ _  __ _  ___ _ __
 | |   / _ \ / _` + "`" + ` | |\/| |/ _` + "`" + ` | '_ \ / _` + "`" + ` |/ _` + "`" + ` |/ _ \ '__|
 | |__| (_) | (_| | |  | | (_| | | | | (_| | (_| |  __/ |
 |_____\___/ \__, |_|  |_|\__,_|_| |_|\__,_|\__, |\___|_|
             |___/                          |___/
`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  fnOS Log Manager - Version %s\x1b[0m\n\n", Version)
}
