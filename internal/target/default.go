package target

import "github.com/breeze-rmm/toolguard/internal/platform"

var (
	onLinux   = []string{platform.Linux}
	onDarwin  = []string{platform.Darwin}
	onWindows = []string{platform.Windows}
	onUnix    = []string{platform.Linux, platform.Darwin}
)

// Default returns the built-in profile for the OpenClaw agent gateway
// (formerly distributed as clawdbot / moltbot).
func Default() Profile {
	return Profile{
		Name:    "openclaw",
		Command: "openclaw",
		Executables: []Location{
			{Path: "/usr/local/bin/openclaw", OS: onUnix},
			{Path: "/usr/bin/openclaw", OS: onLinux},
			{Path: "/opt/homebrew/bin/openclaw", OS: onDarwin},
			{Path: "~/.npm-global/bin/openclaw", OS: onUnix},
			{Path: "~/.local/bin/openclaw", OS: onUnix},
			{Path: `${APPDATA}\npm\openclaw.cmd`, OS: onWindows},
			{Path: `${LOCALAPPDATA}\Programs\openclaw\openclaw.exe`, OS: onWindows},
		},
		StateDirs: []Location{
			{Path: "~/.openclaw"},
			{Path: "~/.clawdbot"},
			{Path: "~/.moltbot"},
		},
		ConfigPaths: []Location{
			{Path: "~/.config/openclaw", OS: onLinux},
			{Path: "~/Library/Application Support/openclaw", OS: onDarwin},
			{Path: "~/Library/Preferences/ai.openclaw.gateway.plist", OS: onDarwin},
			{Path: `${APPDATA}\openclaw`, OS: onWindows},
		},
		Services: []Location{
			{Path: "openclaw-gateway", OS: onLinux},
			{Path: "ai.openclaw.gateway", OS: onDarwin},
			{Path: "OpenClawGateway", OS: onWindows},
		},
		ProcessNames:    []string{"openclaw", "openclaw-gateway", "openclaw.exe"},
		Port:            18789,
		ContainerImages: []string{"openclaw", "clawdbot"},
		Packages: []Package{
			{Manager: "npm", Name: "openclaw"},
			{Manager: "npm", Name: "clawdbot"},
			{Manager: "brew", Name: "openclaw"},
		},
		ShellRCFiles: []string{
			"~/.bashrc",
			"~/.bash_profile",
			"~/.zshrc",
			"~/.profile",
			"~/.config/fish/config.fish",
		},
		ShellPattern: "openclaw",
		RegistryKeys: []string{
			`HKCU\Software\OpenClaw`,
			`HKLM\SOFTWARE\Microsoft\Windows\CurrentVersion\Uninstall\OpenClaw`,
		},
	}
}
