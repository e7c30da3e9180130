package config

import (
	"reflect"

	"github.com/rojlabs/roj/internal/hive"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	RolesChanged bool
	NewRoles     hive.RoleTable

	SchedulerChanged bool
	NewScheduler     SchedulerConfig

	ChatIDChanged bool
	NewChatID     int64

	// Non-reloadable fields that changed (log warnings only)
	NonReloadable []string
}

// HasChanges reports whether any reloadable field changed.
func (d *ConfigDiff) HasChanges() bool {
	return d.RolesChanged ||
		d.SchedulerChanged ||
		d.ChatIDChanged
}

// Diff compares two configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if !reflect.DeepEqual(old.Roles, new.Roles) {
		d.RolesChanged = true
		d.NewRoles = new.Roles
	}

	if old.Scheduler.PollInterval != new.Scheduler.PollInterval {
		d.SchedulerChanged = true
		d.NewScheduler = new.Scheduler
	}

	if old.Telegram.ChatID != new.Telegram.ChatID {
		d.ChatIDChanged = true
		d.NewChatID = new.Telegram.ChatID
	}

	// Non-reloadable warnings
	if old.Swarm != new.Swarm {
		d.NonReloadable = append(d.NonReloadable, "swarm")
	}
	if old.Telegram.Token != new.Telegram.Token {
		d.NonReloadable = append(d.NonReloadable, "telegram.token")
	}
	if old.Web.Port != new.Web.Port {
		d.NonReloadable = append(d.NonReloadable, "web.port")
	}
	if old.NATS.DataDir != new.NATS.DataDir {
		d.NonReloadable = append(d.NonReloadable, "nats.data_dir")
	}
	if old.NATS.Port != new.NATS.Port {
		d.NonReloadable = append(d.NonReloadable, "nats.port")
	}
	if old.Store != new.Store {
		d.NonReloadable = append(d.NonReloadable, "store")
	}
	if old.Vault.Passphrase != new.Vault.Passphrase {
		d.NonReloadable = append(d.NonReloadable, "vault.passphrase")
	}

	return d
}
