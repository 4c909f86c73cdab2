package validations

import (
	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/usecase"
	pkgError "github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/error"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/utils"
	"github.com/adhocore/gronx"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// panicInvalid convierte el error de ozzo en ValidationError y lo lanza para
// que lo capture el middleware de Recovery.
func panicInvalid(err error) {
	if err != nil {
		utils.PanicIfNeeded(pkgError.ValidationError(err.Error()))
	}
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func ValidateLogin(request LoginRequest) {
	panicInvalid(validation.ValidateStruct(&request,
		validation.Field(&request.Username, validation.Required),
		validation.Field(&request.Password, validation.Required),
	))
}

type TransferRequest struct {
	QueueID   string `json:"queue_id"`
	AdvisorID string `json:"advisor_id"`
	Reason    string `json:"reason"`
}

// ValidateTransfer exige exactamente uno de queue_id o advisor_id.
func ValidateTransfer(request TransferRequest) {
	if request.QueueID == "" && request.AdvisorID == "" {
		panicInvalid(pkgError.ValidationError("queue_id or advisor_id is required"))
	}
	if request.QueueID != "" && request.AdvisorID != "" {
		panicInvalid(pkgError.ValidationError("queue_id and advisor_id are mutually exclusive"))
	}
}

type SendMessageRequest struct {
	Text      string `json:"text"`
	MediaKind string `json:"media_kind"`
	MediaURL  string `json:"media_url"`
	Filename  string `json:"filename"`
	Mimetype  string `json:"mimetype"`
	Size      int64  `json:"size"`
}

func ValidateSendMessage(request SendMessageRequest) {
	if request.Text == "" && request.MediaURL == "" {
		panicInvalid(pkgError.ValidationError("text or media_url is required"))
	}
	if request.MediaURL != "" {
		panicInvalid(validation.ValidateStruct(&request,
			validation.Field(&request.MediaKind, validation.Required, validation.In("image", "audio", "video", "document", "sticker")),
		))
	}
}

type AdvisorSaveRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Password    string `json:"password"`
}

func ValidateAdvisorSave(request AdvisorSaveRequest, isCreate bool) {
	rules := []*validation.FieldRules{
		validation.Field(&request.Username, validation.Required, validation.Length(3, 64)),
		validation.Field(&request.DisplayName, validation.Required),
		validation.Field(&request.Role, validation.In("admin", "supervisor", "advisor")),
	}
	if isCreate {
		rules = append(rules, validation.Field(&request.Password, validation.Required, validation.Length(8, 128)))
	} else if request.Password != "" {
		rules = append(rules, validation.Field(&request.Password, validation.Length(8, 128)))
	}
	panicInvalid(validation.ValidateStruct(&request, rules...))
}

func ValidateQueueSave(queue domain.Queue) {
	panicInvalid(validation.ValidateStruct(&queue,
		validation.Field(&queue.Name, validation.Required),
		validation.Field(&queue.DistributionMode, validation.Required, validation.In(
			domain.DistributionRoundRobin,
			domain.DistributionLeastBusy,
			domain.DistributionManual,
		)),
		validation.Field(&queue.MaxConcurrent, validation.Min(0)),
	))
}

func ValidateChannelSave(request usecase.ChannelSaveRequest) {
	panicInvalid(validation.ValidateStruct(&request,
		validation.Field(&request.Alias, validation.Required),
		validation.Field(&request.ProviderPhoneNumberID, validation.Required),
	))
}

func ValidateCampaignSave(campaign domain.Campaign) {
	panicInvalid(validation.ValidateStruct(&campaign,
		validation.Field(&campaign.Name, validation.Required),
		validation.Field(&campaign.ChannelConnectionID, validation.Required),
		validation.Field(&campaign.Recipients, validation.Required),
		validation.Field(&campaign.CronExpr, validation.Required),
	))

	if !gronx.New().IsValid(campaign.CronExpr) {
		panicInvalid(pkgError.ValidationError("cron_expr is not a valid cron expression"))
	}
}
