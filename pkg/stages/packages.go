// pkg/stages/packages.go

package stages

import (
	"context"

	"github.com/CodeMonkeyCybersecurity/kiln/pkg/installer"
	"github.com/CodeMonkeyCybersecurity/kiln/pkg/stage"
	"go.uber.org/zap"
)

const offlineReason = "offline mode"

func (d Deps) ensureHomebrew(ctx context.Context) error {
	out, err := d.Installer.EnsureBackend(ctx)
	if err != nil {
		return err
	}
	if out == installer.Skipped {
		return stage.Skip(offlineReason)
	}
	d.log(Homebrew).Info("Homebrew ready", zap.Stringer("outcome", out))
	return nil
}

func (d Deps) ensureBasePackages(ctx context.Context) error {
	if d.Config.OfflineMode {
		return stage.Skip(offlineReason)
	}
	pkgs := append(installer.Formulae(d.Config.Packages.Base...), installer.Casks(d.Config.Packages.BaseCasks...)...)
	n, err := d.Installer.EnsureAll(ctx, pkgs...)
	if err != nil {
		return err
	}
	d.log(BasePackages).Info("Base packages ready", zap.Int("installed", n), zap.Int("total", len(pkgs)))
	return nil
}
