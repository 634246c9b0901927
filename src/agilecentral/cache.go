package agilecentral

import "strings"

// Cache holds the BuildDefinitions and SCMRepositories seen during one run.
// A new Cache is created at the start of every run and dropped at its end.
type Cache struct {
	// definitions is keyed by project name, then definition name.
	definitions map[string]map[string]BuildDefinition
	loaded      map[string]bool
	// repositories is keyed by lower cased name.
	repositories map[string]SCMRepository
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		definitions:  make(map[string]map[string]BuildDefinition),
		loaded:       make(map[string]bool),
		repositories: make(map[string]SCMRepository),
	}
}

// Definition returns the cached definition name in project.
func (c *Cache) Definition(project, name string) (BuildDefinition, bool) {
	d, ok := c.definitions[project][name]
	return d, ok
}

// Loaded reports whether the definitions of project were read wholesale.
func (c *Cache) Loaded(project string) bool {
	return c.loaded[project]
}

// PutDefinition records def under project.
func (c *Cache) PutDefinition(project string, def BuildDefinition) {
	if c.definitions[project] == nil {
		c.definitions[project] = make(map[string]BuildDefinition)
	}
	c.definitions[project][def.Name] = def
}

// Fill records the definitions read for project, keyed by each definition's
// own project name, and marks project as loaded.
func (c *Cache) Fill(project string, defs []BuildDefinition) {
	for _, d := range defs {
		owner := d.Project.Name
		if owner == "" {
			owner = project
		}
		c.PutDefinition(owner, d)
	}
	c.loaded[project] = true
}

// DefinitionAnywhere looks name up in every cached project. It is used when
// a definition may live in a project other than the configured one.
func (c *Cache) DefinitionAnywhere(name string) (BuildDefinition, bool) {
	for _, defs := range c.definitions {
		if d, ok := defs[name]; ok {
			return d, true
		}
	}
	return BuildDefinition{}, false
}

// Repository returns the cached repository with the given name, ignoring case.
func (c *Cache) Repository(name string) (SCMRepository, bool) {
	r, ok := c.repositories[strings.ToLower(name)]
	return r, ok
}

// PutRepository records repo.
func (c *Cache) PutRepository(repo SCMRepository) {
	c.repositories[strings.ToLower(repo.Name)] = repo
}
