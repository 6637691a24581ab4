// Copyright 2025, Gregg Coppen
// SPDX-License-Identifier: Apache-2.0

package cwbundle

// Builder assigns descriptor fields in declaration order. It never validates.
type Builder struct {
	d *Descriptor
}

// MenuBuilder assigns the scope and commands of one menu
type MenuBuilder struct {
	m *Menu
}

// CurrentBundle runs fn against a fresh descriptor and returns it
func CurrentBundle(fn func(b *Builder)) *Descriptor {
	b := &Builder{d: &Descriptor{}}
	if fn != nil {
		fn(b)
	}
	return b.d
}

func (b *Builder) Name(name string) *Builder {
	b.d.Name = name
	return b
}

func (b *Builder) Author(author string) *Builder {
	b.d.Author = author
	return b
}

func (b *Builder) Copyright(copyright string) *Builder {
	b.d.Copyright = copyright
	return b
}

func (b *Builder) Description(description string) *Builder {
	b.d.Description = description
	return b
}

func (b *Builder) GitRepo(repo string) *Builder {
	b.d.GitRepo = repo
	return b
}

// Menu declares a menu and lets fn fill it in
func (b *Builder) Menu(title string, fn func(m *MenuBuilder)) *Builder {
	menu := Menu{Title: title}
	if fn != nil {
		fn(&MenuBuilder{m: &menu})
	}
	b.d.Menus = append(b.d.Menus, menu)
	return b
}

// Scope replaces the menu's scope list
func (mb *MenuBuilder) Scope(scopes ...string) *MenuBuilder {
	mb.m.Scope = append([]string(nil), scopes...)
	return mb
}

// Command appends a command reference to the menu
func (mb *MenuBuilder) Command(name string) *MenuBuilder {
	mb.m.Commands = append(mb.m.Commands, name)
	return mb
}
