package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sesFunc func(ctx context.Context, in *ses.SendEmailInput) (*ses.SendEmailOutput, error)

func (f sesFunc) SendEmail(ctx context.Context, in *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	return f(ctx, in)
}

type snsFunc func(ctx context.Context, in *sns.PublishInput) (*sns.PublishOutput, error)

func (f snsFunc) Publish(ctx context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	return f(ctx, in)
}

func TestSESSendText(t *testing.T) {
	var got *ses.SendEmailInput
	client := NewSESClientFromAPI(sesFunc(func(_ context.Context, in *ses.SendEmailInput) (*ses.SendEmailOutput, error) {
		got = in
		return &ses.SendEmailOutput{MessageId: aws.String("m-1")}, nil
	}), "noreply@example.org")

	id, err := client.SendText(context.Background(), "elder@example.org", "Stage advanced", "Congratulations")
	require.NoError(t, err)
	assert.Equal(t, "m-1", id)
	assert.Equal(t, "noreply@example.org", aws.ToString(got.Source))
	assert.Equal(t, []string{"elder@example.org"}, got.Destination.ToAddresses)
	assert.Equal(t, "Stage advanced", aws.ToString(got.Message.Subject.Data))
	assert.Equal(t, "Congratulations", aws.ToString(got.Message.Body.Text.Data))
}

func TestSESSendTextError(t *testing.T) {
	client := NewSESClientFromAPI(sesFunc(func(context.Context, *ses.SendEmailInput) (*ses.SendEmailOutput, error) {
		return nil, errors.New("throttled")
	}), "noreply@example.org")
	_, err := client.SendText(context.Background(), "a@example.org", "s", "b")
	assert.EqualError(t, err, "throttled")
}

func TestSNSPublishToUser(t *testing.T) {
	var got *sns.PublishInput
	client := NewSNSClientFromAPI(snsFunc(func(_ context.Context, in *sns.PublishInput) (*sns.PublishOutput, error) {
		got = in
		return &sns.PublishOutput{MessageId: aws.String("p-1")}, nil
	}), "arn:aws:sns:eu-west-1:000000000000:push")

	id, err := client.PublishToUser(context.Background(), "y-1", "New interest", "{}", map[string]string{"type": "new_interest"})
	require.NoError(t, err)
	assert.Equal(t, "p-1", id)
	assert.Equal(t, "arn:aws:sns:eu-west-1:000000000000:push", aws.ToString(got.TopicArn))
	assert.Equal(t, "y-1", aws.ToString(got.MessageAttributes["userId"].StringValue))
	assert.Equal(t, "new_interest", aws.ToString(got.MessageAttributes["type"].StringValue))
}
