package mail

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

const (
	verificationSubject = "Please verify your email address"
	textTemplate        = "Please click the following link to verify your email address %s"
	htmlTemplate        = `<p>Please click the following link to verify your email address</p><p><a href="%[1]s">%[1]s</a></p>`
)

// SESAPI is the subset of the SES v2 client used by SESSender.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender sends verification mail through Amazon SES.
type SESSender struct {
	client  SESAPI
	from    string
	baseURL string
}

// NewSESSender wraps an SES client.
//
// Parameters:
//   - client: SES v2 client, usually *sesv2.Client
//   - from: Verified sender address
//   - baseURL: Verification endpoint the code is appended to
func NewSESSender(client SESAPI, from, baseURL string) *SESSender {
	return &SESSender{client: client, from: from, baseURL: baseURL}
}

// NewSESSenderFromEnv builds an SES client from the default AWS credential
// chain (environment, shared config, instance role).
//
// Parameters:
//   - ctx: Context for loading the AWS configuration
//   - region: AWS region; the chain's region is used when empty
//   - from: Verified sender address
//   - baseURL: Verification endpoint the code is appended to
//
// Returns:
//   - The SESSender, or an error if the AWS configuration cannot be loaded
func NewSESSenderFromEnv(ctx context.Context, region, from, baseURL string) (*SESSender, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return NewSESSender(sesv2.NewFromConfig(cfg), from, baseURL), nil
}

// SendVerification implements Sender.
func (s *SESSender) SendVerification(ctx context.Context, email, token string) error {
	link := VerificationLink(s.baseURL, email, token)

	_, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(verificationSubject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(fmt.Sprintf(textTemplate, link)), Charset: aws.String("UTF-8")},
					Html: &types.Content{Data: aws.String(fmt.Sprintf(htmlTemplate, link)), Charset: aws.String("UTF-8")},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	return nil
}
