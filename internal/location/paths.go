package location

// Paths locates locationd's files. Empty fields take DefaultPaths values.
type Paths struct {
	StoreDir       string
	ClientsPlist   string
	ByHostDir      string
	LaunchdPlist   string
	ServiceAccount string
}

func DefaultPaths() Paths {
	return Paths{
		StoreDir:       "/var/db/locationd",
		ClientsPlist:   "/var/db/locationd/clients.plist",
		ByHostDir:      "/var/db/locationd/Library/Preferences/ByHost",
		LaunchdPlist:   "/System/Library/LaunchDaemons/com.apple.locationd.plist",
		ServiceAccount: "_locationd",
	}
}

func (p Paths) withDefaults() Paths {
	d := DefaultPaths()
	if p.StoreDir == "" {
		p.StoreDir = d.StoreDir
	}
	if p.ClientsPlist == "" {
		p.ClientsPlist = d.ClientsPlist
	}
	if p.ByHostDir == "" {
		p.ByHostDir = d.ByHostDir
	}
	if p.LaunchdPlist == "" {
		p.LaunchdPlist = d.LaunchdPlist
	}
	if p.ServiceAccount == "" {
		p.ServiceAccount = d.ServiceAccount
	}
	return p
}

// Tools are the subprocesses the editor runs.
type Tools struct {
	Launchctl string
	Chown     string
	Ioreg     string
	Defaults  string
	Codesign  string
}

func DefaultTools() Tools {
	return Tools{
		Launchctl: "/bin/launchctl",
		Chown:     "/usr/sbin/chown",
		Ioreg:     "/usr/sbin/ioreg",
		Defaults:  "/usr/bin/defaults",
		Codesign:  "/usr/bin/codesign",
	}
}

func (t Tools) withDefaults() Tools {
	d := DefaultTools()
	if t.Launchctl == "" {
		t.Launchctl = d.Launchctl
	}
	if t.Chown == "" {
		t.Chown = d.Chown
	}
	if t.Ioreg == "" {
		t.Ioreg = d.Ioreg
	}
	if t.Defaults == "" {
		t.Defaults = d.Defaults
	}
	if t.Codesign == "" {
		t.Codesign = d.Codesign
	}
	return t
}
