// Copyright 2025 The Crateworks Authors
// SPDX-License-Identifier: Apache-2.0

// Registryctl administers a registry catalog database.
package main

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"zombiezen.com/go/sqlite"

	"github.com/crateworks/registry/internal/catalog"
	"github.com/crateworks/registry/internal/jobqueue"
)

var rootCmd = &cobra.Command{
	Use:   "registryctl",
	Short: "An operator tool for the crate registry catalog",
}

var dbPath string

// withConn opens the catalog and runs fn on one connection.
func withConn(fn func(conn *sqlite.Conn) error) error {
	cat, err := catalog.Open(dbPath)
	if err != nil {
		return err
	}
	defer cat.Close()
	conn, err := cat.Take(context.Background())
	if err != nil {
		return err
	}
	defer cat.Put(conn)
	return fn(conn)
}

var addUserCmd = &cobra.Command{
	Use:   "add-user <login> <email>",
	Short: "Create a user with a verified email",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConn(func(conn *sqlite.Conn) error {
			id, err := catalog.CreateUser(conn, args[0], args[1], true)
			if err != nil {
				return err
			}
			fmt.Printf("user %d\n", id)
			return nil
		})
	},
}

var (
	tokenCrateScopes    string
	tokenEndpointScopes string
)

var addTokenCmd = &cobra.Command{
	Use:   "add-token <user-id> <token>",
	Short: "Create an API token for a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return errors.Wrap(err, "parsing user id")
		}
		return withConn(func(conn *sqlite.Conn) error {
			id, err := catalog.CreateToken(conn, userID, args[1], tokenCrateScopes, tokenEndpointScopes)
			if err != nil {
				return err
			}
			fmt.Printf("token %d\n", id)
			return nil
		})
	},
}

var reserveNameCmd = &cobra.Command{
	Use:   "reserve-name <name>",
	Short: "Reserve a crate name so it cannot be published",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConn(func(conn *sqlite.Conn) error {
			return catalog.ReserveName(conn, args[0])
		})
	},
}

var addCategoryCmd = &cobra.Command{
	Use:   "add-category <slug> <name>",
	Short: "Add a category to the controlled vocabulary",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConn(func(conn *sqlite.Conn) error {
			return catalog.AddCategory(conn, args[0], args[1])
		})
	},
}

var (
	limitUploadSize int64
	limitFeatures   int64
)

var setLimitsCmd = &cobra.Command{
	Use:   "set-limits <crate>",
	Short: "Override publish limits for one crate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConn(func(conn *sqlite.Conn) error {
			crate, err := catalog.FindCrateByName(conn, args[0])
			if err != nil {
				return err
			}
			if crate == nil {
				return errors.Errorf("no crate named %s", args[0])
			}
			var upload, features *int64
			if limitUploadSize > 0 {
				upload = &limitUploadSize
			}
			if limitFeatures > 0 {
				features = &limitFeatures
			}
			return catalog.SetCrateLimits(conn, crate.ID, upload, features)
		})
	},
}

var pendingJobsCmd = &cobra.Command{
	Use:   "pending-jobs",
	Short: "List unclaimed background jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConn(func(conn *sqlite.Conn) error {
			jobs, err := jobqueue.Pending(conn)
			if err != nil {
				return err
			}
			for _, job := range jobs {
				fmt.Printf("%s\t%s\tretries=%d\t%s\n", job.ID, job.Type, job.Retries, string(job.Data))
			}
			return nil
		})
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "registry.db", "catalog database path")
	addTokenCmd.Flags().StringVar(&tokenCrateScopes, "crate-scopes", "", "comma-separated crate scope patterns")
	addTokenCmd.Flags().StringVar(&tokenEndpointScopes, "endpoint-scopes", "", "comma-separated endpoint scopes")
	setLimitsCmd.Flags().Int64Var(&limitUploadSize, "max-upload-size", 0, "per-crate upload size cap in bytes")
	setLimitsCmd.Flags().Int64Var(&limitFeatures, "max-features", 0, "per-crate feature count cap")
	rootCmd.AddCommand(addUserCmd, addTokenCmd, reserveNameCmd, addCategoryCmd, setLimitsCmd, pendingJobsCmd)
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
