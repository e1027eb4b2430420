package ingestion

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/codegraph/internal/models"
)

// resolver binds references the plugins could not resolve inside one file
// by matching names across the whole project
type resolver struct {
	agg      *models.ParseResult
	log      *logrus.Entry
	byName   map[string][]models.CodeEntity
	modules  map[string]bool
	fileMod  map[string]string // file path → module qualified name
	entityOf map[string]models.CodeEntity
}

func newResolver(agg *models.ParseResult, log *logrus.Entry) *resolver {
	r := &resolver{
		agg:      agg,
		log:      log,
		byName:   map[string][]models.CodeEntity{},
		modules:  map[string]bool{},
		fileMod:  map[string]string{},
		entityOf: map[string]models.CodeEntity{},
	}
	for _, e := range agg.Entities {
		r.entityOf[e.QualifiedName] = e
		switch e.EntityType {
		case models.EntityModule:
			r.modules[e.QualifiedName] = true
			if _, ok := r.fileMod[e.FilePath]; !ok {
				r.fileMod[e.FilePath] = e.QualifiedName
			}
		case models.EntityFunction, models.EntityMethod, models.EntityClass, models.EntityInterface:
			r.byName[e.Name] = append(r.byName[e.Name], e)
		}
	}
	return r
}

// acceptable reports whether an entity of type t can be the target of an edge of type rel
func acceptable(rel models.RelationshipType, t models.EntityType) bool {
	switch rel {
	case models.RelCalls:
		return t == models.EntityFunction || t == models.EntityMethod || t == models.EntityClass
	case models.RelExtends, models.RelImplements:
		return t == models.EntityClass || t == models.EntityInterface
	}
	return false
}

func (r *resolver) moduleOf(qn string) string {
	if e, ok := r.entityOf[qn]; ok {
		return r.fileMod[e.FilePath]
	}
	return ""
}

func (r *resolver) resolve(res *Result) {
	kept := r.agg.Relationships[:0]
	seen := make(map[string]bool, len(r.agg.Relationships))
	keep := func(rel models.Relationship) {
		if k := rel.Key(); !seen[k] {
			seen[k] = true
			kept = append(kept, rel)
		}
	}

	for _, rel := range r.agg.Relationships {
		switch {
		case rel.Resolution == models.ResolutionUnresolved:
			target, ok := r.match(rel, res)
			if !ok {
				continue
			}
			keep(target)
		case rel.RelationshipType == models.RelImports && !r.modules[rel.TargetQualifiedName]:
			// `import "./dir"` loads dir/index
			if index := rel.TargetQualifiedName + ".index"; r.modules[index] {
				rel.TargetQualifiedName = index
				rel.Resolution = models.ResolutionHeuristic
				res.Stats.ResolvedHeuristic++
			}
			keep(rel)
		default:
			keep(rel)
		}
	}
	r.agg.Relationships = kept
}

// match resolves one unresolved edge. ok=false means the edge is dropped.
func (r *resolver) match(rel models.Relationship, res *Result) (models.Relationship, bool) {
	name := rel.TargetQualifiedName
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}

	var candidates []models.CodeEntity
	for _, e := range r.byName[name] {
		if !acceptable(rel.RelationshipType, e.EntityType) {
			continue
		}
		if rel.RelationshipType != models.RelCalls && e.QualifiedName == rel.SourceQualifiedName {
			continue
		}
		candidates = append(candidates, e)
	}

	if len(candidates) > 1 {
		callerModule := r.moduleOf(rel.SourceQualifiedName)
		var local []models.CodeEntity
		for _, e := range candidates {
			if r.fileMod[e.FilePath] == callerModule {
				local = append(local, e)
			}
		}
		if len(local) > 0 {
			candidates = local
		}
	}

	switch len(candidates) {
	case 1:
		rel.TargetQualifiedName = candidates[0].QualifiedName
		rel.Resolution = models.ResolutionHeuristic
		res.Stats.ResolvedHeuristic++
		return rel, true
	case 0:
		res.Stats.Unresolved++
		if rel.RelationshipType == models.RelExtends || rel.RelationshipType == models.RelImplements {
			// framework or library base class: keep it as an external placeholder
			rel.Resolution = models.ResolutionExternal
			return rel, true
		}
		return rel, false
	default:
		res.Stats.Ambiguous++
		names := make([]string, len(candidates))
		for i, c := range candidates {
			names[i] = c.QualifiedName
		}
		r.agg.AddWarning("ambiguous reference %s from %s: %s", name, rel.SourceQualifiedName, strings.Join(names, ", "))
		r.log.WithFields(logrus.Fields{
			"source":     rel.SourceQualifiedName,
			"name":       name,
			"candidates": len(candidates),
		}).Debug("ambiguous reference dropped")
		return rel, false
	}
}
