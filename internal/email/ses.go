package email

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/rs/zerolog/log"
)

var (
	ErrMissingRecipient = errors.New("recipient is required")
	ErrMissingSender    = errors.New("sender is required")
)

// SESClient delivers envelopes through AWS SESv2.
type SESClient struct {
	client *sesv2.Client
	sender string
}

var _ Sender = (*SESClient)(nil)

// NewSESClient initializes an SES client using static credentials and region.
func NewSESClient(ctx context.Context, accessKeyID, secretAccessKey, region, sender string) (*SESClient, error) {
	if accessKeyID == "" || secretAccessKey == "" || region == "" {
		return nil, fmt.Errorf("ses credentials and region are required")
	}
	if sender == "" {
		return nil, fmt.Errorf("ses sender is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &SESClient{
		client: sesv2.NewFromConfig(awsCfg),
		sender: sender,
	}, nil
}

func (c *SESClient) Deliver(ctx context.Context, env Envelope) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("ses client is not initialized")
	}
	input, err := sendEmailInput(env, c.sender)
	if err != nil {
		return err
	}

	out, err := c.client.SendEmail(ctx, input)
	if err != nil {
		log.Ctx(ctx).Error().
			Err(err).
			Str("recipient", env.To).
			Str("subject", env.Subject).
			Msg("Failed to send SES email")
		return fmt.Errorf("send ses email: %w", err)
	}
	log.Ctx(ctx).Debug().Str("message_id", aws.ToString(out.MessageId)).Msg("SES accepted email")
	return nil
}

// sendEmailInput builds the SESv2 request for env. Tags are emitted in key
// order.
func sendEmailInput(env Envelope, defaultSender string) (*sesv2.SendEmailInput, error) {
	to := strings.TrimSpace(env.To)
	if to == "" {
		return nil, ErrMissingRecipient
	}
	from := strings.TrimSpace(env.From)
	if from == "" {
		from = defaultSender
	}
	if from == "" {
		return nil, ErrMissingSender
	}

	input := &sesv2.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(env.Subject)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(env.Body)},
				},
			},
		},
		FromEmailAddress: aws.String(from),
	}

	keys := make([]string, 0, len(env.Tags))
	for k := range env.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		input.EmailTags = append(input.EmailTags, types.MessageTag{
			Name:  aws.String(k),
			Value: aws.String(env.Tags[k]),
		})
	}
	return input, nil
}
