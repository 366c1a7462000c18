package monitor

import "fmt"

// PrintBanner prints the startup banner
func PrintBanner() {
	banner := `
██████╗  █████╗ ██████╗ ██╗     ███████╗██╗   ██╗
██╔══██╗██╔══██╗██╔══██╗██║     ██╔════╝╚██╗ ██╔╝
██████╔╝███████║██████╔╝██║     █████╗   ╚████╔╝
██╔═══╝ ██╔══██║██╔══██╗██║     ██╔══╝    ╚██╔╝
██║     ██║  ██║██║  ██║███████╗███████╗   ██║
╚═╝     ╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝╚══════╝   ╚═╝
`
	fmt.Println(banner)
}
