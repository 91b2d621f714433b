package policy

// Data paths read by the built-in policies. Set them with Engine.SetData.
const (
	// DataBanned is a list of package names that may not be activated.
	DataBanned = "/crateplan/banned"

	// DataAllowedRegistries is a list of registry source ids packages may
	// come from. Empty allows every registry.
	DataAllowedRegistries = "/crateplan/allowed_registries"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		bannedPackagesPolicy(),
		allowedRegistriesPolicy(),
		duplicateVersionsPolicy(),
		gitSourcesPolicy(),
		yankedPackagesPolicy(),
	}
}

func bannedPackagesPolicy() Policy {
	return Policy{
		Name:        "banned-packages",
		Description: "Rejects resolves that activate a banned package",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"supply-chain"},
		Rego: `package crateplan.policies.banned

import rego.v1

deny contains violation if {
	some pkg in input.packages
	some banned in data.crateplan.banned
	pkg.name == banned
	violation := {
		"message": sprintf("package %s is banned", [pkg.name]),
		"package": pkg.id,
	}
}
`,
	}
}

func allowedRegistriesPolicy() Policy {
	return Policy{
		Name:        "allowed-registries",
		Description: "Restricts registry packages to the configured registries",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"supply-chain"},
		Rego: `package crateplan.policies.registries

import rego.v1

deny contains violation if {
	allowed := {r | some r in data.crateplan.allowed_registries}
	count(allowed) > 0
	some pkg in input.packages
	pkg.source_kind == "registry"
	not allowed[pkg.source]
	violation := {
		"message": sprintf("package %s comes from %s, which is not an allowed registry", [pkg.name, pkg.source]),
		"package": pkg.id,
	}
}
`,
	}
}

func duplicateVersionsPolicy() Policy {
	return Policy{
		Name:        "duplicate-versions",
		Description: "Reports packages activated at more than one version from the same source",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"hygiene"},
		Rego: `package crateplan.policies.duplicates

import rego.v1

deny contains violation if {
	some a in input.packages
	some b in input.packages
	a.name == b.name
	a.source == b.source
	semver.compare(a.version, b.version) < 0
	violation := {
		"message": sprintf("package %s is activated at %s and %s", [a.name, a.version, b.version]),
		"package": a.id,
	}
}
`,
	}
}

func gitSourcesPolicy() Policy {
	return Policy{
		Name:        "git-sources",
		Description: "Reports dependencies taken from git repositories",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"reproducibility"},
		Rego: `package crateplan.policies.git

import rego.v1

deny contains violation if {
	some pkg in input.packages
	pkg.source_kind == "git"
	not pkg.root
	violation := {
		"message": sprintf("package %s is taken from git (%s)", [pkg.name, pkg.source]),
		"package": pkg.id,
	}
}
`,
	}
}

func yankedPackagesPolicy() Policy {
	return Policy{
		Name:        "yanked-packages",
		Description: "Reports yanked versions kept by the lockfile",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"hygiene"},
		Rego: `package crateplan.policies.yanked

import rego.v1

deny contains violation if {
	some pkg in input.packages
	pkg.yanked
	violation := {
		"message": sprintf("package %s %s has been yanked", [pkg.name, pkg.version]),
		"package": pkg.id,
	}
}
`,
	}
}
