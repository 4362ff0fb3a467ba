package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/warning-calendar-service/internal/account"
	"github.com/couchcryptid/warning-calendar-service/internal/domain"
)

// withAccounts runs fn against the user store and closes it afterwards.
func withAccounts(cmd *cobra.Command, fn func(ctx context.Context, svc *account.Service) error) error {
	ctx := cmd.Context()
	a, err := newAccounts(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a.accounts)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func historyCmd() *cobra.Command {
	var email string
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the warnings already sent to a user's calendar, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAccounts(cmd, func(ctx context.Context, svc *account.Service) error {
				records, err := svc.History(ctx, email, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd, records)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "User email")
	cmd.Flags().IntVar(&limit, "limit", domain.DefaultHistoryLimit, "Maximum number of records")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// --------------------------------------------------------------------------
// users command
// --------------------------------------------------------------------------

func usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage subscribers, their locations and preferences",
	}
	cmd.AddCommand(usersAddCmd())
	cmd.AddCommand(usersShowCmd())
	cmd.AddCommand(usersSetActiveCmd("pause", "Stop checking warnings for a user", false))
	cmd.AddCommand(usersSetActiveCmd("resume", "Resume checking warnings for a user", true))
	cmd.AddCommand(usersAddLocationCmd())
	cmd.AddCommand(usersRemoveLocationCmd())
	cmd.AddCommand(usersPreferencesCmd())
	return cmd
}

func usersAddCmd() *cobra.Command {
	var email, accessToken, refreshToken string
	var expiresIn time.Duration
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a user or replace its calendar credential",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cred := domain.Credential{AccessToken: accessToken, RefreshToken: refreshToken}
			if accessToken != "" && expiresIn > 0 {
				cred.Expiry = domain.Now().Add(expiresIn)
			}
			return withAccounts(cmd, func(ctx context.Context, svc *account.Service) error {
				u, err := svc.Register(ctx, email, cred)
				if err != nil {
					return err
				}
				return printJSON(cmd, summarize(u))
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "User email")
	cmd.Flags().StringVar(&accessToken, "access-token", "", "Calendar access token")
	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "Calendar refresh token")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "Access token lifetime (0 = no known expiry)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func usersShowCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a user's locations and preferences",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAccounts(cmd, func(ctx context.Context, svc *account.Service) error {
				u, err := svc.User(ctx, email)
				if err != nil {
					return err
				}
				return printJSON(cmd, summarize(u))
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "User email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func usersSetActiveCmd(use, short string, active bool) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAccounts(cmd, func(ctx context.Context, svc *account.Service) error {
				return svc.SetActive(ctx, email, active)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "User email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func usersAddLocationCmd() *cobra.Command {
	var email, name string
	var lat, lon float64
	cmd := &cobra.Command{
		Use:   "add-location",
		Short: "Add a location by name, coordinates, or both",
		Long: "Add a location. Without --lat/--lon the name is geocoded; " +
			"without --name the coordinates are reverse geocoded. Both need MAPBOX_TOKEN.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := account.LocationInput{Name: name}
			latSet, lonSet := cmd.Flags().Changed("lat"), cmd.Flags().Changed("lon")
			if latSet != lonSet {
				return fmt.Errorf("--lat and --lon must be given together")
			}
			if latSet {
				in.Lat, in.Lon = &lat, &lon
			}
			return withAccounts(cmd, func(ctx context.Context, svc *account.Service) error {
				loc, err := svc.AddLocation(ctx, email, in)
				if err != nil {
					return err
				}
				return printJSON(cmd, loc)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "User email")
	cmd.Flags().StringVar(&name, "name", "", "Location name")
	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude (WGS-84)")
	cmd.Flags().Float64Var(&lon, "lon", 0, "Longitude (WGS-84)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func usersRemoveLocationCmd() *cobra.Command {
	var email, name string
	cmd := &cobra.Command{
		Use:   "remove-location",
		Short: "Remove a location by name",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAccounts(cmd, func(ctx context.Context, svc *account.Service) error {
				return svc.RemoveLocation(ctx, email, name)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "User email")
	cmd.Flags().StringVar(&name, "name", "", "Location name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func usersPreferencesCmd() *cobra.Command {
	var email string
	var enable, disable []string
	cmd := &cobra.Command{
		Use:   "preferences",
		Short: "Enable or disable warning types (storm, rain, snow, black_ice, thunderstorm, heat, cold, unknown)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			changes := make(map[string]bool, len(enable)+len(disable))
			for _, t := range enable {
				changes[t] = true
			}
			for _, t := range disable {
				if _, dup := changes[t]; dup {
					return fmt.Errorf("warning type %q both enabled and disabled", t)
				}
				changes[t] = false
			}
			return withAccounts(cmd, func(ctx context.Context, svc *account.Service) error {
				prefs, err := svc.SetPreferences(ctx, email, changes)
				if err != nil {
					return err
				}
				return printJSON(cmd, prefs)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "User email")
	cmd.Flags().StringSliceVar(&enable, "enable", nil, "Warning types to enable")
	cmd.Flags().StringSliceVar(&disable, "disable", nil, "Warning types to disable")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

type userSummary struct {
	Email       string             `json:"email"`
	Active      bool               `json:"active"`
	Connected   bool               `json:"calendar_connected"`
	Locations   []domain.Location  `json:"locations"`
	Preferences domain.Preferences `json:"preferences"`
}

// summarize drops the credential so tokens are never printed.
func summarize(u domain.User) userSummary {
	return userSummary{
		Email:       u.Email,
		Active:      u.Active,
		Connected:   u.HasCredential(),
		Locations:   u.Locations,
		Preferences: u.Preferences,
	}
}
