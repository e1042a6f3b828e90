// Package ginguard mounts a guard.Guard on gin routes.
package ginguard

import (
	"github.com/gin-gonic/gin"

	"github.com/keithlinneman/windowguard/internal/guard"
)

// Middleware guards a gin route with rule. Unless the rule names its
// operation, the gin route template (c.FullPath) identifies it.
func Middleware(g *guard.Guard, rule guard.Rule) (gin.HandlerFunc, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	return func(c *gin.Context) {
		r := rule
		if r.Name == "" {
			r.Name = c.FullPath()
		}
		req, ok := g.Admit(c.Writer, c.Request, r)
		if !ok {
			c.Abort()
			return
		}
		c.Request = req
		c.Next()
	}, nil
}
