package pubsub

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	topicPathPattern        = regexp.MustCompile(`^projects/[a-zA-Z0-9_-]+/topics/[a-zA-Z0-9_.~+%-]+$`)
	subscriptionPathPattern = regexp.MustCompile(`^projects/[a-zA-Z0-9_-]+/subscriptions/[a-zA-Z0-9_.~+%-]+$`)
)

// IsTopicPath reports whether name is already a fully qualified topic path.
func IsTopicPath(name string) bool {
	return topicPathPattern.MatchString(name)
}

// IsSubscriptionPath reports whether name is already a fully qualified subscription path.
func IsSubscriptionPath(name string) bool {
	return subscriptionPathPattern.MatchString(name)
}

// TopicPath builds projects/<project>/topics/<name>. Full paths are returned unchanged.
func TopicPath(project, name string) string {
	if IsTopicPath(name) {
		return name
	}
	return fmt.Sprintf("projects/%s/topics/%s", project, name)
}

// SubscriptionPath builds projects/<project>/subscriptions/<name>. Full paths are returned unchanged.
func SubscriptionPath(project, name string) string {
	if IsSubscriptionPath(name) {
		return name
	}
	return fmt.Sprintf("projects/%s/subscriptions/%s", project, name)
}

// ShortName returns the last path segment, i.e. the bare topic or subscription ID.
func ShortName(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// ProjectPaths resolves names against a single project.
type ProjectPaths struct {
	Project string
}

// NewProjectPaths returns a PathResolver bound to project.
func NewProjectPaths(project string) ProjectPaths {
	return ProjectPaths{Project: project}
}

// TopicPath implements PathResolver.
func (p ProjectPaths) TopicPath(name string) (string, error) {
	if name == "" {
		return "", NewConfigurationError(ErrEmptyName, "topic name is empty")
	}
	if !IsTopicPath(name) && p.Project == "" {
		return "", NewConfigurationError(ErrConfiguration, "project id is required to resolve topic "+name)
	}
	return TopicPath(p.Project, name), nil
}

// SubscriptionPath implements PathResolver.
func (p ProjectPaths) SubscriptionPath(name string) (string, error) {
	if name == "" {
		return "", NewConfigurationError(ErrEmptyName, "subscription name is empty")
	}
	if !IsSubscriptionPath(name) && p.Project == "" {
		return "", NewConfigurationError(ErrConfiguration, "project id is required to resolve subscription "+name)
	}
	return SubscriptionPath(p.Project, name), nil
}

// PlainPaths resolves every name to itself. Used by brokers without a project namespace.
type PlainPaths struct{}

// TopicPath implements PathResolver.
func (PlainPaths) TopicPath(name string) (string, error) {
	if name == "" {
		return "", NewConfigurationError(ErrEmptyName, "topic name is empty")
	}
	return name, nil
}

// SubscriptionPath implements PathResolver.
func (PlainPaths) SubscriptionPath(name string) (string, error) {
	if name == "" {
		return "", NewConfigurationError(ErrEmptyName, "subscription name is empty")
	}
	return name, nil
}
