package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rideline/ridectl/internal/application"
	"github.com/rideline/ridectl/internal/domain/user"
)

func newSignupCmd() *cobra.Command {
	var req application.SignupRequest
	var role string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account; an OTP is sent to the email",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			r, err := user.ParseRole(role)
			if err != nil {
				return err
			}
			req.Role = r
			ctx, cancel := withTimeout(cmd.Context(), a.cfg.HTTPTimeout)
			defer cancel()
			if err := a.auth.Signup(ctx, req); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signup submitted. Run: ridectl verify --email %s --otp <code>\n", req.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "full name")
	cmd.Flags().StringVar(&req.Email, "email", "", "email address")
	cmd.Flags().StringVar(&req.Phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&req.Password, "password", "", "password (min 8 characters)")
	cmd.Flags().StringVar(&role, "role", "passenger", "passenger or driver")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	var email, otp string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Confirm a signup with the emailed OTP and sign in",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			ctx, cancel := withTimeout(cmd.Context(), a.cfg.HTTPTimeout)
			defer cancel()
			session, err := a.auth.VerifyOTP(ctx, email, otp)
			if err != nil {
				return err
			}
			return printSession(cmd, session)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&otp, "otp", "", "one-time code")
	return cmd
}

func newResendOTPCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "resend-otp",
		Short: "Send a fresh signup OTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			ctx, cancel := withTimeout(cmd.Context(), a.cfg.HTTPTimeout)
			defer cancel()
			if err := a.auth.ResendOTP(ctx, email); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OTP sent.")
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	return cmd
}

func newLoginCmd() *cobra.Command {
	var req application.LoginRequest
	var role string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			if role != "" {
				r, err := user.ParseRole(role)
				if err != nil {
					return err
				}
				req.Role = r
			}
			ctx, cancel := withTimeout(cmd.Context(), a.cfg.HTTPTimeout)
			defer cancel()
			session, err := a.auth.Login(ctx, req)
			if err != nil {
				return err
			}
			return printSession(cmd, session)
		},
	}
	cmd.Flags().StringVar(&req.Email, "email", "", "email address")
	cmd.Flags().StringVar(&req.Password, "password", "", "password")
	cmd.Flags().StringVar(&role, "role", "", "passenger or driver")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			ctx, cancel := withTimeout(cmd.Context(), a.cfg.HTTPTimeout)
			defer cancel()
			if err := a.auth.Logout(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			ctx, cancel := withTimeout(cmd.Context(), a.cfg.HTTPTimeout)
			defer cancel()
			creds, err := a.auth.Session(ctx)
			if err != nil {
				return err
			}
			me, err := a.auth.Me(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"role":       creds.Role,
				"expires_at": creds.ExpiresAt,
				"user":       me,
			})
		},
	}
}

func printSession(cmd *cobra.Command, s *application.Session) error {
	out := map[string]any{"role": s.Credentials.Role, "user_id": s.Credentials.UserID}
	if s.User != nil {
		out["user"] = s.User
	}
	return printJSON(cmd.OutOrStdout(), out)
}
