// Package testutil provides test doubles shared across lane's packages.
package testutil
