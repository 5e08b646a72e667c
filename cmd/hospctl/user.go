package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hackgods/hospital-operations/internal/access"
	"github.com/hackgods/hospital-operations/internal/app"
	"github.com/hackgods/hospital-operations/internal/identity"
)

func createUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create an account without an acting admin (first admin, break-glass)",
		RunE: func(cmd *cobra.Command, args []string) error {
			username, _ := cmd.Flags().GetString("username")
			password, _ := cmd.Flags().GetString("password")
			roleNames, _ := cmd.Flags().GetStringSlice("role")

			roles := make([]access.Role, 0, len(roleNames))
			for _, name := range roleNames {
				role, ok := access.ParseRole(strings.ToUpper(strings.TrimSpace(name)))
				if !ok {
					return fmt.Errorf("unknown role %q (want one of %v)", name, access.AllRoles)
				}
				roles = append(roles, role)
			}

			e, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			a := app.New(e.pool, nil, e.cfg, e.logger)
			u, err := a.Identity.Bootstrap(cmd.Context(), username, password, roles...)
			if errors.Is(err, identity.ErrDuplicateUsername) {
				return fmt.Errorf("user %q already exists", username)
			}
			if err != nil {
				return err
			}
			fmt.Printf("created user %s (id %d, roles %v); password change required at first login\n", u.Username, u.ID, u.Roles)
			return nil
		},
	}
	cmd.Flags().String("username", "", "login name")
	cmd.Flags().String("password", "", "initial password")
	cmd.Flags().StringSlice("role", []string{string(access.RoleAdmin)}, "role(s) to grant")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
