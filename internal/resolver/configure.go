// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package resolver

import (
	"context"
	"errors"

	"github.com/samber/oops"
)

// LoadConfig asks the script for its config UI, renders it on the Form and
// fills it with the script's user configuration.
func (p *Plugin) LoadConfig(ctx context.Context) {
	p.dispatch(ctx, "getConfigUi", p.loadConfig)
}

func (p *Plugin) loadConfig(ctx context.Context) {
	if p.form == nil || p.rt == nil || !p.ready {
		return
	}
	ref := p.resolverRef()
	if !p.rt.Defined(ref + ".getConfigUi") {
		return
	}
	v, err := p.eval(ctx, "getConfigUi", p.rt.Method(ref, "getConfigUi"))
	if err != nil {
		return
	}
	m, ok := asMap(v)
	if !ok || len(m) == 0 {
		return
	}

	ui, err := parseConfigUI(m)
	if err != nil {
		p.logError(ctx, "invalid config UI", err)
		return
	}
	if err := p.form.Render(ui); err != nil {
		p.bindingFailure(ctx, err)
		return
	}
	cfg, err := p.readUserConfig(ctx)
	if err != nil {
		return
	}
	if err := p.form.Fill(NewSnapshot(ui.Fields, cfg)); err != nil {
		p.bindingFailure(ctx, err)
		return
	}
	p.setConfigUI(ui)
}

// SaveConfig reads the Form, persists the values and hands them to the
// script through saveUserConfig().
func (p *Plugin) SaveConfig(ctx context.Context) {
	p.dispatch(ctx, "saveUserConfig", p.saveConfig)
}

func (p *Plugin) saveConfig(ctx context.Context) {
	ui := p.ConfigUI()
	if p.form == nil || ui == nil || p.rt == nil {
		return
	}
	snap, err := p.form.Read(ui.Fields)
	if err != nil {
		p.bindingFailure(ctx, err)
		return
	}
	cfg := snap.Map()
	if p.store != nil {
		if err := p.store.Save(ctx, p.id, cfg); err != nil {
			p.logError(ctx, "failed to save config", oops.In("resolver").With("plugin", p.id).Wrap(err))
			p.status.Error(p.Name(), "failed to save configuration")
			return
		}
	}
	p.userConfig = cfg

	ref := p.resolverRef()
	if p.rt.Defined(ref + ".saveUserConfig") {
		_, _ = p.eval(ctx, "saveUserConfig", p.rt.Method(ref, "saveUserConfig"))
	}
}

// ConfigUI returns the config UI loaded by the last LoadConfig, or nil.
func (p *Plugin) ConfigUI() *ConfigUI {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.configUI
}

func (p *Plugin) setConfigUI(ui *ConfigUI) {
	p.mu.Lock()
	p.configUI = ui
	p.mu.Unlock()
}

// bindingFailure aborts the config load. Only the config load is affected.
func (p *Plugin) bindingFailure(ctx context.Context, err error) {
	var missing *MissingWidgetError
	if errors.As(err, &missing) {
		err = ErrWidgetBindingFailure(missing.Field, missing.Widget, err)
	} else {
		err = ErrWidgetBindingFailure("", "", err)
	}
	p.setConfigUI(nil)
	p.logError(ctx, "config form binding failed", err)
	p.status.Error(p.Name(), err.Error())
}
