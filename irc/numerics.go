package irc

// Numeric reply codes, formatted on the wire as three-digit commands.
const (
	RPL_WELCOME  = "001"
	RPL_YOURHOST = "002"
	RPL_CREATED  = "003"
	RPL_MYINFO   = "004"

	RPL_UMODEIS = "221"

	RPL_WHOISUSER     = "311"
	RPL_ENDOFWHO      = "315"
	RPL_ENDOFWHOIS    = "318"
	RPL_LISTSTART     = "321"
	RPL_LIST          = "322"
	RPL_LISTEND       = "323"
	RPL_CHANNELMODEIS = "324"
	RPL_NOTOPIC       = "331"
	RPL_TOPIC         = "332"
	RPL_NAMREPLY      = "353"
	RPL_ENDOFNAMES    = "366"

	RPL_MOTD      = "372"
	RPL_MOTDSTART = "375"
	RPL_ENDOFMOTD = "376"

	ERR_NOSUCHNICK       = "401"
	ERR_NOSUCHCHANNEL    = "403"
	ERR_NOTEXTTOSEND     = "412"
	ERR_UNKNOWNCOMMAND   = "421"
	ERR_NONICKNAMEGIVEN  = "431"
	ERR_ERRONEUSNICKNAME = "432"
	ERR_NICKNAMEINUSE    = "433"
	ERR_NOTONCHANNEL     = "442"
	ERR_NOTREGISTERED    = "451"
	ERR_NEEDMOREPARAMS   = "461"
	ERR_INVITEONLYCHAN   = "473"
	ERR_CHANOPRIVSNEEDED = "482"
)
